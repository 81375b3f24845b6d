package dialog

import "testing"

func TestTransitions(t *testing.T) {
	if !CanTransition(StatusInCreation, StatusPreparedForSending) {
		t.Fatalf("expected in_creation -> prepared transition to be allowed")
	}
	if !CanTransition(StatusSending, StatusPreparedForSending) {
		t.Fatalf("expected sending -> prepared retry transition to be allowed")
	}
	if !CanTransition(StatusSending, StatusSentButNotWaitingForAnswer) {
		t.Fatalf("expected sending -> sent_but_not_waiting transition to be allowed")
	}
	if CanTransition(StatusInCreation, StatusSending) {
		t.Fatalf("expected in_creation -> sending transition to be disallowed")
	}
	if CanTransition(StatusSentAndAnsweredAndProcessed, StatusSentAndAnsweredAndProcessed) {
		t.Fatalf("expected a status not to transition to itself")
	}
}

func TestWaitingForAnswerHasExactlyTwoSuccessors(t *testing.T) {
	for _, to := range Statuses {
		allowed := CanTransition(StatusSentAndWaitingForAnswer, to)
		want := to == StatusSentAndAnsweredByParticipant || to == StatusSentAndNotAnsweredAndProcessed
		if allowed != want {
			t.Errorf("waiting -> %s allowed = %v, want %v", to, allowed, want)
		}
	}
}

func TestTransitionsOnlyMoveForward(t *testing.T) {
	rank := make(map[Status]int)
	for i, s := range Statuses {
		rank[s] = i
	}
	for from, targets := range transitions {
		for to := range targets {
			if from == StatusSending && to == StatusPreparedForSending {
				continue
			}
			if rank[to] <= rank[from] {
				t.Errorf("transition %s -> %s moves backwards", from, to)
			}
		}
	}
}

func TestNothingEntersReceivedUnexpectedly(t *testing.T) {
	for from := range transitions {
		if CanTransition(from, StatusReceivedUnexpectedly) {
			t.Errorf("%s -> received_unexpectedly should not be a transition", from)
		}
	}
	if !StatusReceivedUnexpectedly.IsTerminal() || !StatusSentAndAnsweredAndProcessed.IsTerminal() {
		t.Error("expected end states to be terminal")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("SENDING"); err != nil || s != StatusSending {
		t.Errorf("ParseStatus(SENDING) = %v, %v", s, err)
	}
	if _, err := ParseStatus("LOST"); err == nil {
		t.Error("expected error for unknown status")
	}
}
