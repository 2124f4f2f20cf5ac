package notion

import "strings"

// RichText is one rich text segment.
type RichText struct {
	Type      string    `json:"type,omitempty"`
	Text      *TextBody `json:"text,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

type TextBody struct {
	Content string `json:"content"`
}

// PropertySchema describes one database column.
type PropertySchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Database is the subset of a Notion database object used here.
type Database struct {
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// Schema maps property names to property types.
func (d Database) Schema() map[string]string {
	out := make(map[string]string, len(d.Properties))
	for name, property := range d.Properties {
		out[name] = property.Type
	}
	return out
}

// TitleProperty returns the name of the database's title column.
func (d Database) TitleProperty() string {
	for name, property := range d.Properties {
		if property.Type == "title" {
			return name
		}
	}
	return ""
}

func (d Database) Name() string {
	return plainText(d.Title)
}

// Query is the body of a database query.
type Query struct {
	Filter      map[string]any `json:"filter,omitempty"`
	StartCursor string         `json:"start_cursor,omitempty"`
	PageSize    int            `json:"page_size,omitempty"`
}

type QueryResult struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Page is the subset of a Notion page object used here.
type Page struct {
	ID         string                  `json:"id"`
	URL        string                  `json:"url,omitempty"`
	Properties map[string]PageProperty `json:"properties,omitempty"`
}

// PageProperty holds a property value as returned by Notion.
type PageProperty struct {
	Type  string     `json:"type"`
	Title []RichText `json:"title,omitempty"`
}

type Parent struct {
	DatabaseID string `json:"database_id"`
}

// CreatePageRequest is the body of POST /pages.
type CreatePageRequest struct {
	Parent     Parent         `json:"parent"`
	Properties map[string]any `json:"properties"`
	Children   []Block        `json:"children,omitempty"`
}

// Block is a page content block. Only paragraphs are produced.
type Block struct {
	Object    string     `json:"object"`
	Type      string     `json:"type"`
	Paragraph *Paragraph `json:"paragraph,omitempty"`
}

type Paragraph struct {
	RichText []RichText `json:"rich_text"`
}

func plainText(segments []RichText) string {
	var b strings.Builder
	for _, segment := range segments {
		switch {
		case segment.PlainText != "":
			b.WriteString(segment.PlainText)
		case segment.Text != nil:
			b.WriteString(segment.Text.Content)
		}
	}
	return b.String()
}
