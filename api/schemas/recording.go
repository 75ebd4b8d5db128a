package schemas

// -- Action Log Schemas --

// ActionType identifies the variant of a recorded Action.
type ActionType string

const (
	ActionClick        ActionType = "click"
	ActionInput        ActionType = "input"
	ActionKeypress     ActionType = "keypress"
	ActionScroll       ActionType = "scroll"
	ActionNavigation   ActionType = "navigation"
	ActionWindowSize   ActionType = "window_size"
	ActionWindowResize ActionType = "window_resize"
)

// RecordingVersion is the format version written by the recorder.
const RecordingVersion = "1.0"

// MaxActionTextLength bounds the captured textContent of a clicked element.
const MaxActionTextLength = 50

// KnownActionTypes lists every action type the player understands.
var KnownActionTypes = map[ActionType]bool{
	ActionClick:        true,
	ActionInput:        true,
	ActionKeypress:     true,
	ActionScroll:       true,
	ActionNavigation:   true,
	ActionWindowSize:   true,
	ActionWindowResize: true,
}

// Recording is an immutable, ordered capture of one page session.
type Recording struct {
	Version   string   `json:"version"`
	Timestamp int64    `json:"timestamp"`
	StartURL  string   `json:"startUrl"`
	Actions   []Action `json:"actions"`
}

// Clone returns a deep copy, so concurrent runs never share action state.
func (r *Recording) Clone() *Recording {
	out := *r
	out.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		if a.X != nil {
			a.X = Float(*a.X)
		}
		if a.Y != nil {
			a.Y = Float(*a.Y)
		}
		if a.IsVisible != nil {
			a.IsVisible = Bool(*a.IsVisible)
		}
		if a.CausedBy != nil {
			a.CausedBy = Int(*a.CausedBy)
		}
		out.Actions[i] = a
	}
	return &out
}

// Action is one normalized unit of recorded interaction. It is a flat tagged
// union: Type selects which of the payload fields are meaningful.
type Action struct {
	Type      ActionType `json:"type"`
	Timestamp int64      `json:"timestamp"`

	// click / input
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Selector  string   `json:"selector,omitempty"`
	Text      string   `json:"text,omitempty"`
	TagName   string   `json:"tagName,omitempty"`
	InputType string   `json:"inputType,omitempty"`
	IsVisible *bool    `json:"isVisible,omitempty"`

	// input
	Value string `json:"value,omitempty"`

	// keypress
	Key string `json:"key,omitempty"`

	// navigation
	URL      string `json:"url,omitempty"`
	CausedBy *int   `json:"causedBy,omitempty"`

	// scroll
	ScrollX float64 `json:"scrollX,omitempty"`
	ScrollY float64 `json:"scrollY,omitempty"`

	// window_size / window_resize
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Point returns the recorded coordinates and whether both are present.
func (a Action) Point() (x, y float64, ok bool) {
	if a.X == nil || a.Y == nil {
		return 0, 0, false
	}
	return *a.X, *a.Y, true
}

// HasPoint reports whether the action carries coordinates.
func (a Action) HasPoint() bool {
	_, _, ok := a.Point()
	return ok
}

// Visible reports whether the target was visible at capture time.
// Recordings that predate the flag are treated as visible.
func (a Action) Visible() bool {
	return a.IsVisible == nil || *a.IsVisible
}

// Float returns a pointer to v. Handy when building actions in code.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
