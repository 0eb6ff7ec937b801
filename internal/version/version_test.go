package version_test

import (
	"strings"
	"testing"

	v "github.com/keithlinneman/stancemap/internal/version"
)

func TestVCSDirtyTriState(t *testing.T) {
	v.VCSDirty = nil
	info := v.Get()
	if info.VCSDirty != nil {
		t.Fatalf("VCSDirty = %v, want nil", info.VCSDirty)
	}

	trueVal := true
	v.VCSDirty = &trueVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != true {
		t.Fatalf("VCSDirty = %v, want true", info.VCSDirty)
	}

	falseVal := false
	v.VCSDirty = &falseVal
	info = v.Get()
	if info.VCSDirty == nil || *info.VCSDirty != false {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
}

func TestGet_AppName(t *testing.T) {
	if got := v.Get().AppName; got != "stancemap" {
		t.Fatalf("AppName = %q, want stancemap", got)
	}
}

func TestInfo_String(t *testing.T) {
	dirty := true
	info := v.Info{
		AppName:    "stancemap",
		Version:    "v1.4.0",
		Commit:     "abc123",
		CommitDate: "2026-06-01T10:00:00Z",
		BuildId:    "b-7",
		BuildDate:  "2026-06-02T08:00:00Z",
		GoVersion:  "go1.24.4",
		VCSDirty:   &dirty,
	}
	want := "stancemap v1.4.0 (commit=abc123, commit_date=2026-06-01T10:00:00Z, build_id=b-7, build_date=2026-06-02T08:00:00Z, go=go1.24.4, dirty=true)"
	if got := info.String(); got != want {
		t.Fatalf("String() =\n%s\nwant\n%s", got, want)
	}

	info.VCSDirty = nil
	if got := info.String(); !strings.HasSuffix(got, "dirty=false)") {
		t.Fatalf("unknown dirty state should print false, got %s", got)
	}
}
