package domain

type Category string

const (
	CategoryElectrical     Category = "Electrical"
	CategoryPlumbing       Category = "Plumbing"
	CategoryITSupport      Category = "IT Support"
	CategoryHVAC           Category = "HVAC"
	CategoryGeneralInquiry Category = "General Inquiry"
)

type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

const (
	DefaultCategory = CategoryGeneralInquiry
	DefaultPriority = PriorityMedium

	// MaxTextLength mirrors the task store's rich-text limit.
	MaxTextLength       = 2000
	MaxActionItemLength = 500
)

var categories = []Category{
	CategoryElectrical,
	CategoryPlumbing,
	CategoryITSupport,
	CategoryHVAC,
	CategoryGeneralInquiry,
}

var priorities = []Priority{
	PriorityHigh,
	PriorityMedium,
	PriorityLow,
}

var categoryEmoji = map[Category]string{
	CategoryElectrical:     "⚡",
	CategoryPlumbing:       "🚰",
	CategoryITSupport:      "💻",
	CategoryHVAC:           "🌡️",
	CategoryGeneralInquiry: "📋",
}

var priorityEmoji = map[Priority]string{
	PriorityHigh:   "🔴",
	PriorityMedium: "🟡",
	PriorityLow:    "🟢",
}

// Categories returns the closed category set in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// Priorities returns the closed priority set from most to least urgent.
func Priorities() []Priority {
	out := make([]Priority, len(priorities))
	copy(out, priorities)
	return out
}

func (c Category) Emoji() string {
	if e, ok := categoryEmoji[c]; ok {
		return e
	}
	return categoryEmoji[DefaultCategory]
}

func (p Priority) Emoji() string {
	if e, ok := priorityEmoji[p]; ok {
		return e
	}
	return "⚪"
}

func (c Category) Valid() bool {
	_, ok := categoryEmoji[c]
	return ok
}

func (p Priority) Valid() bool {
	_, ok := priorityEmoji[p]
	return ok
}

// Classification is the validated model verdict for one email. Degraded is set
// when category or priority had to be coerced to a default.
type Classification struct {
	Category        Category `json:"category"`
	Priority        Priority `json:"priority"`
	Summary         string   `json:"summary"`
	RootCause       string   `json:"root_cause"`
	ActionItems     []string `json:"action_items"`
	Degraded        bool     `json:"degraded"`
	DegradedReasons []string `json:"degraded_reasons,omitempty"`
}

func (c Classification) Clone() Classification {
	out := c
	out.ActionItems = append([]string{}, c.ActionItems...)
	if c.DegradedReasons != nil {
		out.DegradedReasons = append([]string{}, c.DegradedReasons...)
	}
	return out
}
