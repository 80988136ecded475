package utils

import "testing"

func TestOptionGetString(t *testing.T) {
	tests := []struct {
		name    string
		opt     Option
		key     string
		want    string
		wantErr bool
	}{
		{"present", Option{"listen.language": "en-US"}, "listen.language", "en-US", false},
		{"missing", Option{}, "listen.language", "", true},
		{"wrong type", Option{"listen.language": 5}, "listen.language", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opt.GetString(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOptionWithIsImmutable(t *testing.T) {
	base := Option{"a": "1"}
	derived := base.With("b", "2")

	if _, ok := base["b"]; ok {
		t.Fatalf("With mutated the receiver")
	}
	if v, _ := derived.GetString("b"); v != "2" {
		t.Fatalf("derived missing new key, got %q", v)
	}
}

func TestPtr(t *testing.T) {
	p := Ptr(42)
	if *p != 42 {
		t.Errorf("got %d, want 42", *p)
	}
}
