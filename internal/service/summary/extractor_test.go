package summary

import (
	"math"
	"reflect"
	"testing"

	"github.com/EmiMaldonado/glaub-session-api/internal/testutil"
)

func TestExtractTopic(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name     string
		contents []string
		want     string
	}{
		{
			name:     "无消息时返回缺省话题",
			contents: nil,
			want:     DefaultTopic,
		},
		{
			name:     "以最后一条用户消息为准",
			contents: []string{"my job is hard", "tell me more", "my partner and I argued"},
			want:     "relationships",
		},
		{
			name:     "最后一条没命中则回落缺省",
			contents: []string{"my boss is difficult", "I see", "the weather is nice"},
			want:     DefaultTopic,
		},
		{
			name:     "多类别命中取定义顺序里的第一个",
			contents: []string{"stress at work is ruining my relationship"},
			want:     "work",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ExtractTopic(testutil.Transcript("s1", tt.contents...))
			if got != tt.want {
				t.Errorf("ExtractTopic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractConcerns(t *testing.T) {
	e := NewExtractor()

	// 一句话同时命中三个关注点族
	messages := testutil.Transcript("s1",
		"I'm worried about my relationship and my career",
	)

	got := e.ExtractConcerns(messages)
	want := []string{"anxiety", "relationships", "professional"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractConcerns() = %v, want %v", got, want)
	}
}

func TestExtractConcernsDeduplicates(t *testing.T) {
	e := NewExtractor()

	// 同一个族在多条消息里出现也只记一次，顺序按首次出现
	messages := testutil.Transcript("s1",
		"I feel anxious about everything",
		"that sounds hard",
		"still anxious, and my family situation is a struggle",
	)

	got := e.ExtractConcerns(messages)
	want := []string{"anxiety", "challenges", "relationships"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractConcerns() = %v, want %v", got, want)
	}
}

func TestExtractConcernsIgnoresAssistant(t *testing.T) {
	e := NewExtractor()

	// 助手消息里的关键词不算用户的关注点
	messages := testutil.Transcript("s1",
		"hello",
		"are you worried about work?",
	)

	if got := e.ExtractConcerns(messages); len(got) != 0 {
		t.Errorf("ExtractConcerns() = %v, want empty", got)
	}
}

func TestExtractNextSteps(t *testing.T) {
	e := NewExtractor()

	tests := []struct {
		name     string
		contents []string
		want     []string
	}{
		{
			name:     "无建议措辞时返回缺省步骤",
			contents: []string{"hello", "hi there"},
			want:     []string{DefaultNextStep},
		},
		{
			name:     "每条助手消息至多提取一步",
			contents: []string{"hi", "I recommend you try journaling", "ok", "consider a short walk"},
			want: []string{
				"follow up on the suggested recommend",
				"follow up on the suggested consider",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ExtractNextSteps(testutil.Transcript("s1", tt.contents...))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractNextSteps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeterminePhase(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{0, PhaseExploration},
		{4, PhaseExploration},
		{5, PhaseAnalysis},
		{14, PhaseAnalysis},
		{15, PhaseActionPlanning},
		{40, PhaseActionPlanning},
	}

	for _, tt := range tests {
		messages := testutil.UserMessages("s1", tt.count, "hello")
		if got := DeterminePhase(messages); got != tt.want {
			t.Errorf("DeterminePhase(%d messages) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

// 阶段只会随消息数前进，不会回退
func TestPhaseMonotonic(t *testing.T) {
	order := map[string]int{PhaseExploration: 0, PhaseAnalysis: 1, PhaseActionPlanning: 2}

	prev := PhaseExploration
	for n := 0; n <= 30; n++ {
		phase := DeterminePhase(testutil.UserMessages("s1", n, "msg"))
		if order[phase] < order[prev] {
			t.Fatalf("phase regressed from %q to %q at %d messages", prev, phase, n)
		}
		prev = phase
	}
}

func TestCalculateProgress(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0},
		{10, 50},
		{20, 100},
		{50, 100}, // 封顶
	}

	for _, tt := range tests {
		messages := testutil.UserMessages("s1", tt.count, "hello")
		if got := CalculateProgress(messages); got != tt.want {
			t.Errorf("CalculateProgress(%d messages) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	e := NewExtractor()

	messages := testutil.Transcript("s1",
		"I'm worried about my job",
		"I suggest you take a break",
		"that might help with the stress at work",
	)

	ctx := e.Extract(messages)
	if ctx.Topic != "work" {
		t.Errorf("Topic = %q, want %q", ctx.Topic, "work")
	}
	if ctx.Phase != PhaseExploration {
		t.Errorf("Phase = %q, want %q", ctx.Phase, PhaseExploration)
	}
	if math.Abs(ctx.Progress-0.15) > 1e-9 {
		t.Errorf("Progress = %v, want 0.15", ctx.Progress)
	}
	if len(ctx.NextSteps) != 1 || ctx.NextSteps[0] != "follow up on the suggested suggest" {
		t.Errorf("NextSteps = %v", ctx.NextSteps)
	}
}
