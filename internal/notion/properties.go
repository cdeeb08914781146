/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notion

import "strings"

func joinPlain(runs []RichText) string {
	var b strings.Builder
	for _, r := range runs {
		b.WriteString(r.PlainText)
	}
	return b.String()
}

// Text joins a rich_text or title property.
func (p Property) Text() string {
	if len(p.RichText) > 0 {
		return joinPlain(p.RichText)
	}
	return joinPlain(p.Title)
}

// TitleText returns the first run of a title property.
func (p Property) TitleText() string {
	if len(p.Title) == 0 {
		return ""
	}
	return p.Title[0].PlainText
}

// SelectName returns the selected option, or "".
func (p Property) SelectName() string {
	if p.Select == nil {
		return ""
	}
	return p.Select.Name
}

// StatusName returns the status option, or "".
func (p Property) StatusName() string {
	if p.Status == nil {
		return ""
	}
	return p.Status.Name
}

// NumberValue returns the number, or 0 when empty.
func (p Property) NumberValue() float64 {
	if p.Number == nil {
		return 0
	}
	return *p.Number
}

// FileURLs returns every attached file URL in order.
func (p Property) FileURLs() []string {
	urls := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		if u := f.URL(); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// FileURL returns the first file URL, or "".
func (p Property) FileURL() string {
	if urls := p.FileURLs(); len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// URL returns the link for hosted or external files.
func (f File) URL() string {
	switch {
	case f.Type == "external" && f.External != nil:
		return f.External.URL
	case f.File != nil:
		return f.File.URL
	case f.External != nil:
		return f.External.URL
	}
	return ""
}

// RelationIDs returns the related page IDs.
func (p Property) RelationIDs() []string {
	ids := make([]string, 0, len(p.Relation))
	for _, r := range p.Relation {
		ids = append(ids, r.ID)
	}
	return ids
}

// DateStart returns the start of a date property, or "".
func (p Property) DateStart() string {
	if p.Date == nil {
		return ""
	}
	return p.Date.Start
}

// CheckboxValue returns the checkbox state.
func (p Property) CheckboxValue() bool {
	return p.Checkbox
}

// URLValue returns a url property, or "".
func (p Property) URLValue() string { return deref(p.URL) }

// EmailValue returns an email property, or "".
func (p Property) EmailValue() string { return deref(p.Email) }

// PhoneValue returns a phone_number property, or "".
func (p Property) PhoneValue() string { return deref(p.PhoneNumber) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// TitleProp returns the page's title property whatever its name.
func (p Page) TitleProp() Property {
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return prop
		}
	}
	return Property{}
}

// FirstText returns the text of the first named property that is non-empty.
func (p Page) FirstText(names ...string) string {
	for _, n := range names {
		if s := p.Prop(n).Text(); s != "" {
			return s
		}
	}
	return ""
}
