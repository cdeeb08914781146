/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notion

import "time"

// Page is a database row.
type Page struct {
	Object         string              `json:"object"`
	ID             string              `json:"id"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	URL            string              `json:"url"`
	Archived       bool                `json:"archived"`
	Properties     map[string]Property `json:"properties"`
}

// Prop returns the named property, or the zero Property when absent.
func (p Page) Prop(name string) Property {
	return p.Properties[name]
}

// Database is the metadata of a Notion database.
type Database struct {
	Object         string     `json:"object"`
	ID             string     `json:"id"`
	Title          []RichText `json:"title"`
	URL            string     `json:"url"`
	CreatedTime    time.Time  `json:"created_time"`
	LastEditedTime time.Time  `json:"last_edited_time"`
}

// TitleText joins the database title.
func (d Database) TitleText() string {
	return joinPlain(d.Title)
}

// RichText is one run of formatted text.
type RichText struct {
	Type      string `json:"type"`
	PlainText string `json:"plain_text"`
	Href      string `json:"href,omitempty"`
}

// Option is a select, multi-select or status value.
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// File is an uploaded ("file") or linked ("external") attachment.
type File struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	File     *FileLink `json:"file,omitempty"`
	External *FileLink `json:"external,omitempty"`
}

// FileLink holds the URL of a file. Hosted files carry an expiry.
type FileLink struct {
	URL        string     `json:"url"`
	ExpiryTime *time.Time `json:"expiry_time,omitempty"`
}

// Relation references another page.
type Relation struct {
	ID string `json:"id"`
}

// DateValue is a date or date range.
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// Property is a page property value. Only the field matching Type is set.
type Property struct {
	ID          string     `json:"id,omitempty"`
	Type        string     `json:"type"`
	Title       []RichText `json:"title,omitempty"`
	RichText    []RichText `json:"rich_text,omitempty"`
	Select      *Option    `json:"select,omitempty"`
	MultiSelect []Option   `json:"multi_select,omitempty"`
	Status      *Option    `json:"status,omitempty"`
	Number      *float64   `json:"number,omitempty"`
	Files       []File     `json:"files,omitempty"`
	Relation    []Relation `json:"relation,omitempty"`
	Date        *DateValue `json:"date,omitempty"`
	Checkbox    bool       `json:"checkbox,omitempty"`
	URL         *string    `json:"url,omitempty"`
	Email       *string    `json:"email,omitempty"`
	PhoneNumber *string    `json:"phone_number,omitempty"`
}

// Sort orders a database query.
type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"` // ascending or descending
}

// QueryRequest is the body of a database query.
type QueryRequest struct {
	Filter      any    `json:"filter,omitempty"`
	Sorts       []Sort `json:"sorts,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

// QueryResponse is one page of query results.
type QueryResponse struct {
	Results    []Page  `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// SelectEquals builds a select property filter.
func SelectEquals(property, value string) map[string]any {
	return map[string]any{
		"property": property,
		"select":   map[string]any{"equals": value},
	}
}

// RelationContains builds a relation property filter.
func RelationContains(property, pageID string) map[string]any {
	return map[string]any{
		"property": property,
		"relation": map[string]any{"contains": pageID},
	}
}

type searchRequest struct {
	Query       string         `json:"query,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
	StartCursor string         `json:"start_cursor,omitempty"`
	PageSize    int            `json:"page_size,omitempty"`
}

type searchResponse struct {
	Results    []Database `json:"results"`
	NextCursor *string    `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

type errorBody struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
