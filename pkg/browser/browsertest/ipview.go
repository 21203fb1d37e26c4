package browsertest

import "strings"

// Selectors used by the IP view page.
const (
	IPSelector     = "#ip-address"
	MapSelector    = "#map"
	RootSelector   = "html"
	ToggleSelector = "#theme-toggle"
	Loading        = "Loading..."
)

// IPView returns a page that behaves like the healthy IP view: the address
// resolves to ip after loadingReads reads of the placeholder, the map is
// visible and the toggle flips the "dark" class on the root element.
func IPView(ip string, loadingReads int) *Page {
	texts := make([]string, 0, loadingReads+1)
	for i := 0; i < loadingReads; i++ {
		texts = append(texts, Loading)
	}
	texts = append(texts, ip)

	return NewPage().
		Set(IPSelector, &Element{Texts: texts}).
		Set(MapSelector, &Element{}).
		Set(RootSelector, &Element{}).
		Set(ToggleSelector, &Element{OnClick: FlipClass(RootSelector, "dark")})
}

// FlipClass returns a click handler that toggles token in selector's class list.
func FlipClass(selector, token string) func(*Page) {
	return func(p *Page) {
		class, _ := p.Attr(selector, "class")
		p.SetAttr(selector, "class", flip(class, token))
	}
}

func flip(class, token string) string {
	var out []string
	found := false
	for _, t := range strings.Fields(class) {
		if t == token {
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		out = append(out, token)
	}
	return strings.Join(out, " ")
}
