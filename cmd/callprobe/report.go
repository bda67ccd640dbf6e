package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TurnResult holds what one replayed utterance produced. Endpoint is measured
// from the end of the streamed speech; Transcribe and Reply from the
// gateway's speech_end event.
type TurnResult struct {
	Index      int
	Transcript string
	ReplyText  string
	Endpoint   time.Duration
	Transcribe time.Duration
	Reply      time.Duration
	err        error
}

func (r TurnResult) OK() bool { return r.err == nil && r.Reply > 0 }

type Report struct {
	SessionID string
	Turns     []TurnResult
}

type Summary struct {
	Count int
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

func summarize(ds []time.Duration) Summary {
	if len(ds) == 0 {
		return Summary{}
	}
	xs := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)
	return Summary{
		Count: len(xs),
		Mean:  time.Duration(stat.Mean(xs, nil)),
		P50:   time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P95:   time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
		Max:   time.Duration(xs[len(xs)-1]),
	}
}

func (r Report) Stage(pick func(TurnResult) time.Duration) Summary {
	var ds []time.Duration
	for _, t := range r.Turns {
		if t.OK() && pick(t) > 0 {
			ds = append(ds, pick(t))
		}
	}
	return summarize(ds)
}

func (r Report) Failed() int {
	n := 0
	for _, t := range r.Turns {
		if !t.OK() {
			n++
		}
	}
	return n
}

func (r Report) Print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session %s: %d turns, %d failed\n\n", r.SessionID, len(r.Turns), r.Failed())

	fmt.Fprintln(tw, "turn\tendpoint\ttranscribe\treply\tresult")
	for _, t := range r.Turns {
		result := "ok"
		if t.err != nil {
			result = t.err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", t.Index, ms(t.Endpoint), ms(t.Transcribe), ms(t.Reply), result)
	}

	fmt.Fprintln(tw, "\nstage\tn\tmean\tp50\tp95\tmax")
	stages := []struct {
		name string
		pick func(TurnResult) time.Duration
	}{
		{"endpoint", func(t TurnResult) time.Duration { return t.Endpoint }},
		{"transcribe", func(t TurnResult) time.Duration { return t.Transcribe }},
		{"reply", func(t TurnResult) time.Duration { return t.Reply }},
	}
	for _, s := range stages {
		sum := r.Stage(s.pick)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", s.name, sum.Count, ms(sum.Mean), ms(sum.P50), ms(sum.P95), ms(sum.Max))
	}
	_ = tw.Flush()
}

func ms(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0fms", float64(d)/float64(time.Millisecond))
}
