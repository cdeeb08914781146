package validation

import (
	"errors"
	"testing"
)

type sample struct {
	Kind  string `json:"kind" validate:"required,oneof=a b"`
	Count int    `json:"count" validate:"min=1,max=5"`
	Link  string `json:"link,omitempty" validate:"omitempty,url"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name string
		in   sample
		want []string
	}{
		{"valid", sample{Kind: "a", Count: 2}, nil},
		{"missing kind", sample{Count: 2}, []string{"kind is required"}},
		{"bad kind and count", sample{Kind: "z", Count: 9}, []string{"kind must be one of: a b", "count must be at most 5"}},
		{"bad url", sample{Kind: "b", Count: 1, Link: "not a url"}, []string{"link must be a valid URL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if len(verr.Fields) != len(tt.want) {
				t.Fatalf("fields = %+v", verr.Fields)
			}
			for i, msg := range tt.want {
				if verr.Fields[i].Message != msg {
					t.Errorf("field %d message = %q, want %q", i, verr.Fields[i].Message, msg)
				}
			}
		})
	}
}

func TestGetValidatorIsShared(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Fatal("validator is not a singleton")
	}
}
