package notion

import (
	"testing"

	"github.com/goccy/go-json"
)

const samplePage = `{
  "object": "page",
  "id": "page-1",
  "properties": {
    "문장 ID": {"type": "title", "title": [{"plain_text": "3-12"}, {"plain_text": " extra"}]},
    "일본어": {"type": "rich_text", "rich_text": [{"plain_text": "お元気"}, {"plain_text": "ですか"}]},
    "순서": {"type": "number", "number": 4},
    "빈숫자": {"type": "number", "number": null},
    "시퀀스": {"type": "select", "select": {"name": "007"}},
    "Status": {"type": "status", "status": {"name": "Done"}},
    "mp3file": {"type": "files", "files": [
      {"name": "jp.mp3", "type": "file", "file": {"url": "https://s3.notion/jp.mp3", "expiry_time": "2026-01-01T00:00:00Z"}},
      {"name": "kr.mp3", "type": "external", "external": {"url": "https://cdn/kr.mp3"}}
    ]},
    "사람": {"type": "relation", "relation": [{"id": "c1"}, {"id": "c2"}]},
    "날짜": {"type": "date", "date": {"start": "2026-02-03"}},
    "완료": {"type": "checkbox", "checkbox": true},
    "링크": {"type": "url", "url": "https://palm.example"},
    "메일": {"type": "email", "email": null},
    "전화": {"type": "phone_number", "phone_number": "010-0000-0000"}
  }
}`

func TestPropertyHelpers(t *testing.T) {
	var page Page
	if err := json.Unmarshal([]byte(samplePage), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"title first run", page.Prop("문장 ID").TitleText(), "3-12"},
		{"title joined", page.Prop("문장 ID").Text(), "3-12 extra"},
		{"rich text", page.Prop("일본어").Text(), "お元気ですか"},
		{"number", page.Prop("순서").NumberValue(), 4.0},
		{"null number", page.Prop("빈숫자").NumberValue(), 0.0},
		{"select", page.Prop("시퀀스").SelectName(), "007"},
		{"status", page.Prop("Status").StatusName(), "Done"},
		{"first file", page.Prop("mp3file").FileURL(), "https://s3.notion/jp.mp3"},
		{"file count", len(page.Prop("mp3file").FileURLs()), 2},
		{"external file", page.Prop("mp3file").FileURLs()[1], "https://cdn/kr.mp3"},
		{"relations", len(page.Prop("사람").RelationIDs()), 2},
		{"date", page.Prop("날짜").DateStart(), "2026-02-03"},
		{"checkbox", page.Prop("완료").CheckboxValue(), true},
		{"url", page.Prop("링크").URLValue(), "https://palm.example"},
		{"null email", page.Prop("메일").EmailValue(), ""},
		{"phone", page.Prop("전화").PhoneValue(), "010-0000-0000"},
		{"missing property", page.Prop("없음").Text(), ""},
		{"missing select", page.Prop("없음").SelectName(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}
