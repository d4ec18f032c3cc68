package turn

import (
	"testing"

	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/matryer/is"
)

func start() transport.Event { return transport.NewEvent(transport.EventRemoteStartedTalking) }
func stop() transport.Event  { return transport.NewEvent(transport.EventRemoteStoppedTalking) }
func frag(s string) transport.Event {
	return transport.NewEvent(transport.EventTranscriptFragment).WithText(s)
}

func feed(a *Accumulator, events ...transport.Event) []Delivery {
	var out []Delivery
	for _, ev := range events {
		out = append(out, a.Observe(ev)...)
	}
	return out
}

func utterances(ds []Delivery) []string {
	var out []string
	for _, d := range ds {
		if d.Kind == Utterance {
			out = append(out, d.Text)
		}
	}
	return out
}

func TestAccumulator_MergeModes(t *testing.T) {
	tests := []struct {
		name string
		mode MergeMode
		want string
	}{
		{"replace keeps last fragment", MergeReplace, "Hello how can I help"},
		{"append joins fragments", MergeAppend, "Hello Hello how can I help"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			a := NewAccumulator(tt.mode, nil)
			out := feed(a, start(), frag("Hello"), frag("Hello how can I help"), stop())
			is.Equal(utterances(out), []string{tt.want})
		})
	}
}

func TestAccumulator_OneUtterancePerEpisode(t *testing.T) {
	is := is.New(t)

	a := NewAccumulator(MergeAppend, nil)
	out := feed(a,
		start(), frag("Hi there."), stop(),
		start(), frag("Are you"), frag("still there?"), stop(),
	)
	is.Equal(utterances(out), []string{"Hi there.", "Are you still there?"})
}

func TestAccumulator_TalkingChangedBeforeUtterance(t *testing.T) {
	is := is.New(t)

	a := NewAccumulator(MergeReplace, nil)
	is.Equal(a.Observe(start()), []Delivery{{Kind: TalkingChanged, Talking: true}})
	is.True(a.Talking())

	a.Observe(frag("Thanks for calling"))
	out := a.Observe(stop())
	is.Equal(len(out), 2)
	is.Equal(out[0], Delivery{Kind: TalkingChanged, Talking: false})
	is.Equal(out[1], Delivery{Kind: Utterance, Text: "Thanks for calling"})
	is.True(!a.Talking())
}

func TestAccumulator_IdleFragmentsIgnored(t *testing.T) {
	is := is.New(t)

	a := NewAccumulator(MergeAppend, nil)
	is.Equal(len(a.Observe(frag("stray"))), 0)
	out := feed(a, start(), frag("real"), stop())
	is.Equal(utterances(out), []string{"real"}) // stray fragment not carried over
}

func TestAccumulator_RepeatedSignalsAreIdempotent(t *testing.T) {
	is := is.New(t)

	a := NewAccumulator(MergeAppend, nil)
	is.Equal(len(a.Observe(stop())), 0) // stop while idle

	is.Equal(len(a.Observe(start())), 1)
	a.Observe(frag("one"))
	is.Equal(len(a.Observe(start())), 0) // second start keeps buffer
	a.Observe(frag("two"))

	out := a.Observe(stop())
	is.Equal(utterances(out), []string{"one two"})
	is.Equal(len(a.Observe(stop())), 0)
}

func TestAccumulator_EmptyEpisode(t *testing.T) {
	is := is.New(t)

	a := NewAccumulator(MergeReplace, nil)
	out := feed(a, start(), frag("   "), stop())
	is.Equal(len(utterances(out)), 0)
	is.Equal(len(out), 2) // both talking changes still delivered
}

func TestAccumulator_DisconnectMidEpisode(t *testing.T) {
	is := is.New(t)

	a := NewAccumulator(MergeAppend, nil)
	feed(a, start(), frag("cut"))
	out := a.Observe(transport.NewEvent(transport.EventRemoteDisconnected))
	is.Equal(out, []Delivery{{Kind: TalkingChanged, Talking: false}})
	is.True(!a.Talking())
}
