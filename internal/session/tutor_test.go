package session

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/speakgenie/speakgenie/internal/conversation"
	"github.com/speakgenie/speakgenie/internal/llm"
	"github.com/speakgenie/speakgenie/internal/stt"
	"github.com/speakgenie/speakgenie/internal/tts"
)

func newTestTutor(t *testing.T, model *fakeModel, deps Deps) *Tutor {
	t.Helper()
	deps.Model = model
	deps.Logger = testLogger
	tutor := NewTutor(deps)
	t.Cleanup(tutor.Close)
	return tutor
}

func TestTutorRoundTrip(t *testing.T) {
	const answer = "Good try! 💡 Speaking tip: say 'What are apples?' 🍎"
	model := &fakeModel{reply: llm.Reply{Text: answer, InputTokens: 120, OutputTokens: 20}}
	speaker := newFakeSpeaker()
	tutor := newTestTutor(t, model, Deps{Speaker: speaker})

	reply, err := tutor.SubmitUserUtterance(context.Background(), "What is apples?")
	if err != nil {
		t.Fatalf("SubmitUserUtterance failed: %v", err)
	}
	if reply != answer {
		t.Errorf("reply = %q, want %q", reply, answer)
	}

	snap := tutor.Snapshot()
	want := []conversation.Turn{
		{Sender: conversation.SenderUser, Text: "What is apples?"},
		{Sender: conversation.SenderAssistant, Text: answer},
	}
	if !reflect.DeepEqual(snap.Turns, want) {
		t.Errorf("turns = %+v, want %+v", snap.Turns, want)
	}
	if snap.AwaitingResponse {
		t.Error("awaiting_response should be false after completion")
	}
	if snap.Mode != ModeTutor || snap.ID == "" {
		t.Errorf("snapshot header = %q/%q", snap.Mode, snap.ID)
	}

	calls := model.completeCalls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(calls))
	}
	if calls[0].userText != "What is apples?" || calls[0].persona != llm.TutorPersona {
		t.Errorf("Complete called with %+v", calls[0])
	}

	u := speaker.next(t)
	if u != tts.NewUtterance(answer, "") {
		t.Errorf("spoken = %+v", u)
	}

	m := tutor.Metrics()
	if m.LLMInputTokens != 120 || m.LLMOutputTokens != 20 {
		t.Errorf("metrics = %+v", m)
	}
	waitFor(t, "tts characters", func() bool {
		return tutor.Metrics().TTSCharacters == len([]rune(answer))
	})
}

func TestTutorIgnoresBlankTranscripts(t *testing.T) {
	model := &fakeModel{reply: llm.Reply{Text: "hi"}}
	tutor := newTestTutor(t, model, Deps{})

	for _, transcript := range []string{"", "   ", "\n\t"} {
		reply, err := tutor.SubmitUserUtterance(context.Background(), transcript)
		if err != nil || reply != "" {
			t.Errorf("SubmitUserUtterance(%q) = %q, %v", transcript, reply, err)
		}
	}
	if n := len(tutor.Snapshot().Turns); n != 0 {
		t.Errorf("turns = %d, want 0", n)
	}
	if n := len(model.completeCalls()); n != 0 {
		t.Errorf("Complete called %d times, want 0", n)
	}
}

func TestTutorFallbackOnModelFailure(t *testing.T) {
	model := &fakeModel{err: errModelDown}
	speaker := newFakeSpeaker()
	tutor := newTestTutor(t, model, Deps{Speaker: speaker})

	reply, err := tutor.SubmitUserUtterance(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("SubmitUserUtterance should absorb model errors, got %v", err)
	}
	if reply != FallbackReply {
		t.Errorf("reply = %q, want fallback", reply)
	}

	turns := tutor.Snapshot().Turns
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[1] != (conversation.Turn{Sender: conversation.SenderAssistant, Text: FallbackReply}) {
		t.Errorf("assistant turn = %+v", turns[1])
	}
	if got := speaker.next(t); got.Text != FallbackReply {
		t.Errorf("spoken = %q, want fallback", got.Text)
	}
}

func TestTutorFallbackOnBlankReply(t *testing.T) {
	model := &fakeModel{reply: llm.Reply{Text: "   "}}
	speaker := newFakeSpeaker()
	tutor := newTestTutor(t, model, Deps{Speaker: speaker})

	for i := 0; i < 2; i++ {
		reply, err := tutor.SubmitUserUtterance(context.Background(), "hello")
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		if reply != FallbackReply {
			t.Errorf("reply = %q, want fallback", reply)
		}
		if got := speaker.next(t); got.Text != FallbackReply {
			t.Errorf("spoken = %q, want fallback", got.Text)
		}
	}

	snap := tutor.Snapshot()
	if snap.AwaitingResponse {
		t.Error("session still awaiting a response")
	}
	if len(snap.Turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(snap.Turns))
	}
	if snap.Turns[3].Sender != conversation.SenderAssistant || snap.Turns[3].Text != FallbackReply {
		t.Errorf("last turn = %+v", snap.Turns[3])
	}
}

func TestTutorTwoTurnsPerUtterance(t *testing.T) {
	model := &fakeModel{reply: llm.Reply{Text: "Nice! 🎉"}}
	tutor := newTestTutor(t, model, Deps{})

	inputs := []string{"I goes to school", "She like cats", "We are happy"}
	for i, in := range inputs {
		if _, err := tutor.SubmitUserUtterance(context.Background(), in); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		turns := tutor.Snapshot().Turns
		if len(turns) != 2*(i+1) {
			t.Fatalf("after %d submits: %d turns", i+1, len(turns))
		}
		if turns[2*i].Sender != conversation.SenderUser || turns[2*i].Text != in {
			t.Errorf("user turn %d = %+v", i, turns[2*i])
		}
		if turns[2*i+1].Sender != conversation.SenderAssistant {
			t.Errorf("assistant turn %d = %+v", i, turns[2*i+1])
		}
	}
}

func TestTutorRequestTranslation(t *testing.T) {
	model := &fakeModel{
		reply:      llm.Reply{Text: "Great job! ⭐"},
		translated: llm.Reply{Text: "बहुत बढ़िया! ⭐", InputTokens: 30, OutputTokens: 10},
	}
	speaker := newFakeSpeaker()
	tutor := newTestTutor(t, model, Deps{Speaker: speaker})

	if _, err := tutor.SubmitUserUtterance(context.Background(), "I am happy"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	speaker.next(t)
	before := len(tutor.Snapshot().Turns)

	got, err := tutor.RequestTranslation(context.Background(), "Great job! ⭐", LanguageByName(""))
	if err != nil {
		t.Fatalf("RequestTranslation failed: %v", err)
	}
	if got != "बहुत बढ़िया! ⭐" {
		t.Errorf("translation = %q", got)
	}
	if after := len(tutor.Snapshot().Turns); after != before {
		t.Errorf("translation changed log length from %d to %d", before, after)
	}

	calls := model.translateCalls()
	if len(calls) != 1 || calls[0] != (translateCall{"Great job! ⭐", "Hindi"}) {
		t.Errorf("Translate calls = %+v", calls)
	}

	u := speaker.next(t)
	if u.Text != "बहुत बढ़िया! ⭐" || u.Lang != "hi-IN" || u.Pitch != 1 || u.Rate != 1 {
		t.Errorf("spoken = %+v", u)
	}
}

func TestTutorTranslationFailureIsNotSpoken(t *testing.T) {
	model := &fakeModel{transErr: errModelDown}
	speaker := newFakeSpeaker()
	tutor := newTestTutor(t, model, Deps{Speaker: speaker})

	got, err := tutor.RequestTranslation(context.Background(), "Hello!", Hindi)
	if !errors.Is(err, ErrTranslationFailed) {
		t.Fatalf("err = %v, want ErrTranslationFailed", err)
	}
	if got != TranslationFailedText {
		t.Errorf("text = %q, want %q", got, TranslationFailedText)
	}
	speaker.expectSilence(t)
}

func TestTutorTranslationRejectsBlankText(t *testing.T) {
	model := &fakeModel{}
	tutor := newTestTutor(t, model, Deps{})

	if _, err := tutor.RequestTranslation(context.Background(), "  ", Hindi); !errors.Is(err, ErrNothingToTranslate) {
		t.Errorf("err = %v, want ErrNothingToTranslate", err)
	}
	if n := len(model.translateCalls()); n != 0 {
		t.Errorf("Translate called %d times", n)
	}
}

func TestTutorListenSubmitsTranscript(t *testing.T) {
	model := &fakeModel{reply: llm.Reply{Text: "Well done! 👏"}}
	ct := stt.NewClientTranscriber()
	rec := &snapshotRecorder{}
	tutor := newTestTutor(t, model, Deps{Transcriber: ct, Observer: rec})

	if err := tutor.Listen(context.Background()); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if !tutor.Snapshot().Listening {
		t.Error("listening should be true after Listen")
	}
	if err := tutor.Listen(context.Background()); !errors.Is(err, stt.ErrBusy) {
		t.Errorf("second Listen err = %v, want ErrBusy", err)
	}

	waitFor(t, "pending listen", func() bool { return ct.Deliver("I like dogs") })
	waitFor(t, "assistant turn", func() bool { return len(tutor.Snapshot().Turns) == 2 })

	snap := tutor.Snapshot()
	if snap.Listening || snap.AwaitingResponse {
		t.Errorf("final flags = listening %v awaiting %v", snap.Listening, snap.AwaitingResponse)
	}

	snaps := rec.all()
	if len(snaps) == 0 || !snaps[0].Listening {
		t.Fatalf("first published snapshot should report listening, got %+v", snaps)
	}
	last := snaps[len(snaps)-1]
	if len(last.Turns) != 2 || last.AwaitingResponse {
		t.Errorf("last published snapshot = %+v", last)
	}
}

func TestTutorRecognitionErrorAddsNoTurn(t *testing.T) {
	model := &fakeModel{reply: llm.Reply{Text: "ok"}}
	ct := stt.NewClientTranscriber()
	tutor := newTestTutor(t, model, Deps{Transcriber: ct})

	if err := tutor.Listen(context.Background()); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	waitFor(t, "pending listen", func() bool { return ct.Fail(errors.New("no-speech")) })
	waitFor(t, "listening reset", func() bool { return !tutor.Snapshot().Listening })

	if n := len(tutor.Snapshot().Turns); n != 0 {
		t.Errorf("turns = %d, want 0", n)
	}
	if n := len(model.completeCalls()); n != 0 {
		t.Errorf("Complete called %d times", n)
	}
}

func TestTutorListenWithoutTranscriber(t *testing.T) {
	tutor := newTestTutor(t, &fakeModel{}, Deps{})
	if err := tutor.Listen(context.Background()); !errors.Is(err, stt.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestTutorListenBlockedWhileAwaitingResponse(t *testing.T) {
	release := make(chan struct{})
	model := &fakeModel{reply: llm.Reply{Text: "Yes! 😀"}, release: release}
	tutor := newTestTutor(t, model, Deps{Transcriber: stt.NewClientTranscriber()})

	done := make(chan error, 1)
	go func() {
		_, err := tutor.SubmitUserUtterance(context.Background(), "Is it sunny?")
		done <- err
	}()
	waitFor(t, "awaiting response", func() bool { return tutor.Snapshot().AwaitingResponse })

	if err := tutor.Listen(context.Background()); !errors.Is(err, ErrAwaitingResponse) {
		t.Errorf("Listen err = %v, want ErrAwaitingResponse", err)
	}
	if _, err := tutor.SubmitUserUtterance(context.Background(), "Hello?"); !errors.Is(err, ErrAwaitingResponse) {
		t.Errorf("concurrent submit err = %v, want ErrAwaitingResponse", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := tutor.Listen(context.Background()); err != nil {
		t.Errorf("Listen after response failed: %v", err)
	}
}

func TestTutorClosed(t *testing.T) {
	tutor := newTestTutor(t, &fakeModel{}, Deps{})
	tutor.Close()
	tutor.Close()

	if _, err := tutor.SubmitUserUtterance(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("submit err = %v, want ErrClosed", err)
	}
	if err := tutor.Listen(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("listen err = %v, want ErrClosed", err)
	}
}

func TestLanguageByName(t *testing.T) {
	tests := []struct {
		in   string
		want Language
	}{
		{"", Hindi},
		{"hindi", Hindi},
		{" Hindi ", Hindi},
		{"French", Language{Name: "French"}},
	}
	for _, tt := range tests {
		if got := LanguageByName(tt.in); got != tt.want {
			t.Errorf("LanguageByName(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
