package domain

import "testing"

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobPending, JobProcessing, true},
		{JobPending, JobCompleted, true},
		{JobProcessing, JobProcessing, true},
		{JobProcessing, JobFailed, true},
		{JobFailed, JobPending, true},
		{JobFailed, JobProcessing, false},
		{JobCompleted, JobPending, false},
		{JobCompleted, JobFailed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestParsePhase(t *testing.T) {
	if p, ok := ParsePhase("tool_call"); !ok || p != PhaseToolCall {
		t.Fatalf("expected tool_call phase, got %q ok=%v", p, ok)
	}
	if _, ok := ParsePhase("ping"); ok {
		t.Fatal("ping is a control frame, not a phase")
	}
	if !IsControlFrame(FrameConnected) || IsControlFrame("start") {
		t.Fatal("control frame detection mismatch")
	}
}

func TestGenerationJobCloneIsDeep(t *testing.T) {
	j := GenerationJob{Resources: []GalleryPlace{{ID: "p1", Photos: []GalleryPhoto{{ID: "a"}}}}}
	c := j.Clone()
	c.Resources[0].Photos[0].ID = "changed"
	c.Resources[0].Name = "changed"
	if j.Resources[0].Photos[0].ID != "a" || j.Resources[0].Name != "" {
		t.Fatal("clone shares memory with original")
	}
}
