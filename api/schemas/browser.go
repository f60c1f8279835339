package schemas

// -- Perception Schemas --

// BoundingBox is the layout rectangle of an element in CSS pixels.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterPoint is the clickable center of an element.
type CenterPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InteractiveElement is something the agent can click, type into, or otherwise operate.
type InteractiveElement struct {
	Tag        string            `json:"tag"`
	Role       string            `json:"role"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes"`
	Box        BoundingBox       `json:"box"`
	Center     CenterPoint       `json:"center"`
	XPath      string            `json:"xpath"`
}

// InformativeElement carries visible text content.
type InformativeElement struct {
	Tag     string      `json:"tag"`
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Center  CenterPoint `json:"center"`
	XPath   string      `json:"xpath"`
}

// ScrollableElement is a container with its own scroll region.
type ScrollableElement struct {
	Tag        string            `json:"tag"`
	Role       string            `json:"role"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes"`
	XPath      string            `json:"xpath"`
}

// PageState is the perception snapshot of the current page, grouped by element category.
type PageState struct {
	URL         string               `json:"url,omitempty"`
	Interactive []InteractiveElement `json:"interactiveElements"`
	Informative []InformativeElement `json:"informativeElements"`
	Scrollable  []ScrollableElement  `json:"scrollableElements"`
}

// InformativeXPaths returns the xpaths of all informative elements, in page order.
func (p *PageState) InformativeXPaths() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Informative))
	for _, el := range p.Informative {
		out = append(out, el.XPath)
	}
	return out
}
