package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestPseudoFromSettings(t *testing.T) {
	cases := []struct {
		name     string
		settings []debug.BuildSetting
		want     string
	}{
		{name: "empty", want: ""},
		{
			name: "clean",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2025-03-04T05:06:07Z"},
			},
			want: "v0.0.0-20250304050607-0123456789ab",
		},
		{
			name: "dirty",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc"},
				{Key: "vcs.time", Value: "2025-03-04T05:06:07Z"},
				{Key: "vcs.modified", Value: "true"},
			},
			want: "v0.0.0-20250304050607-abc+dirty",
		},
		{
			name: "bad time",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc"},
				{Key: "vcs.time", Value: "yesterday"},
			},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pseudoFromSettings(tc.settings); got != tc.want {
				t.Fatalf("pseudoFromSettings()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestBuildVersionOverride(t *testing.T) {
	orig := buildVersion
	t.Cleanup(func() { buildVersion = orig })
	buildVersion = "v1.2.3+dirty"
	if got := Current(); got != "v1.2.3+dirty" {
		t.Fatalf("Current()=%q", got)
	}
	if got := CurrentSemver(); got != "v1.2.3" {
		t.Fatalf("CurrentSemver()=%q", got)
	}
	if got := UserAgent(); got != "etcdgw/v1.2.3" {
		t.Fatalf("UserAgent()=%q", got)
	}
}

func TestModuleNotEmpty(t *testing.T) {
	if strings.TrimSpace(Module()) == "" {
		t.Fatal("Module() returned empty path")
	}
}
