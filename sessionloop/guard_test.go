package sessionloop

import "testing"

func codeStep(desc, code string) *Step {
	return &Step{Description: desc, Type: StepCode, Call: NewRawCodeBlock(code), Status: StatusPending}
}

func TestRepeatGuardTriggersOnIdenticalSteps(t *testing.T) {
	g := newRepeatGuard(3)
	st := codeStep("same", "payload")

	if g.observe(st) || g.observe(st) {
		t.Fatal("guard fired before reaching the limit")
	}
	if !g.observe(st) {
		t.Error("guard did not fire at the limit")
	}
}

func TestRepeatGuardResetsOnDifferentStep(t *testing.T) {
	g := newRepeatGuard(2)
	a := codeStep("a", "payload a")
	b := codeStep("b", "payload b")

	g.observe(a)
	g.observe(b)
	if g.observe(a) {
		t.Error("alternating steps should never trip the guard")
	}
}

func TestRepeatGuardDistinguishesPayloads(t *testing.T) {
	g := newRepeatGuard(2)
	g.observe(codeStep("same description", "payload one"))
	if g.observe(codeStep("same description", "payload two")) {
		t.Error("different payloads must not count as repeats")
	}
}

func TestRepeatGuardDisabled(t *testing.T) {
	g := newRepeatGuard(0)
	st := codeStep("same", "payload")
	for i := 0; i < 50; i++ {
		if g.observe(st) {
			t.Fatal("disabled guard fired")
		}
	}
}

func TestRepeatGuardHandlesConcludeSteps(t *testing.T) {
	g := newRepeatGuard(2)
	st := &Step{Description: "finish", Type: StepConclude, Conclusion: "done"}
	g.observe(st)
	if !g.observe(st) {
		t.Error("identical conclude steps should count as repeats")
	}
}
