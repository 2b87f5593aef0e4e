package insight

import (
	"strings"
	"testing"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			name: "干净的 JSON",
			raw:  `{"openness":0.7,"conscientiousness":0.6,"extraversion":0.4,"agreeableness":0.8,"neuroticism":0.3,"summary":"calm"}`,
		},
		{
			name: "带 markdown 围栏",
			raw: "```json\n" +
				`{"openness":0.7,"conscientiousness":0.6,"extraversion":0.4,"agreeableness":0.8,"neuroticism":0.3}` +
				"\n```",
		},
		{
			name: "轻微残缺交给修复",
			raw:  `{"openness":0.7,"conscientiousness":0.6,"extraversion":0.4,"agreeableness":0.8,"neuroticism":0.3,`,
		},
		{
			name:    "缺因子",
			raw:     `{"openness":0.7}`,
			wantErr: "missing factor",
		},
		{
			name:    "因子不是数字",
			raw:     `{"openness":"high","conscientiousness":0.6,"extraversion":0.4,"agreeableness":0.8,"neuroticism":0.3}`,
			wantErr: "is not a number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := parseProfile(tt.raw)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseProfile() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseProfile() error = %v", err)
			}
			if got := profile["openness"]; got != 0.7 {
				t.Errorf("openness = %v, want 0.7", got)
			}
		})
	}
}

// 超出范围的因子被钳到 [0,1]
func TestParseProfileClampsRange(t *testing.T) {
	raw := `{"openness":1.4,"conscientiousness":-0.2,"extraversion":0.4,"agreeableness":0.8,"neuroticism":0.3}`

	profile, err := parseProfile(raw)
	if err != nil {
		t.Fatalf("parseProfile() error = %v", err)
	}
	if got := profile["openness"]; got != 1.0 {
		t.Errorf("openness = %v, want clamped to 1", got)
	}
	if got := profile["conscientiousness"]; got != 0.0 {
		t.Errorf("conscientiousness = %v, want clamped to 0", got)
	}
}
