package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/callrelay/internal/audio"
	"github.com/ent0n29/callrelay/internal/protocol"
)

// options drive one simulated Twilio media stream against the relay.
type options struct {
	url       string
	wavPath   string
	silence   time.Duration
	speed     float64
	linger    time.Duration
	record    string
	timeout   time.Duration
	verbose   bool
	streamSID string
}

// report summarises what the relay sent back during a simulated call.
type report struct {
	StreamSID       string
	FramesSent      int
	MediaReceived   int
	ClearsReceived  int
	BytesReceived   int
	FirstAudioAfter time.Duration
	Audio           []byte
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "callsim",
		Short: "Simulate a Twilio media stream against a running relay",
		Long: `callsim connects to the relay's /media-stream endpoint the way Twilio does,
streams caller audio as 20ms mu-law frames and reports how the agent answered.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			frames, err := loadFrames(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			rep, err := simulate(ctx, opts, frames, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			if opts.record != "" {
				return writeRecording(opts.record, rep.Audio)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://127.0.0.1:5050/media-stream", "relay media stream websocket URL")
	f.StringVar(&opts.wavPath, "wav", "", "16-bit PCM WAV file to play as the caller (default: silence)")
	f.DurationVar(&opts.silence, "silence", 5*time.Second, "caller silence to stream when --wav is not set")
	f.Float64Var(&opts.speed, "speed", 1.0, "frame pacing multiplier (1.0=realtime)")
	f.DurationVar(&opts.linger, "linger", 5*time.Second, "how long to keep listening after caller audio ends")
	f.StringVar(&opts.record, "record", "", "write the agent's audio to this WAV file")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall call timeout")
	f.BoolVar(&opts.verbose, "verbose", false, "print every event received")
	return cmd
}

func (o *options) validate() error {
	u, err := url.Parse(strings.TrimSpace(o.url))
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if o.speed <= 0 {
		return errors.New("speed must be > 0")
	}
	if o.streamSID == "" {
		o.streamSID = "MZ" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return nil
}

func loadFrames(o options) ([][]byte, error) {
	if o.wavPath == "" {
		n := int(o.silence / (20 * time.Millisecond))
		frames := make([][]byte, n)
		for i := range frames {
			frames[i] = audio.Frames([]byte{audio.MulawSilence}, audio.FrameBytes)[0]
		}
		return frames, nil
	}
	raw, err := os.ReadFile(o.wavPath)
	if err != nil {
		return nil, err
	}
	pcm, err := audio.ReadWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.wavPath, err)
	}
	return audio.ToTelephony(pcm), nil
}

func simulate(ctx context.Context, o options, frames [][]byte, out io.Writer) (report, error) {
	rep := report{StreamSID: o.streamSID}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, o.url, nil)
	if err != nil {
		return rep, fmt.Errorf("open media stream: %w", err)
	}
	defer conn.Close()

	callSID := "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := conn.WriteJSON(protocol.Connected{Event: protocol.EventConnected, Protocol: "Call", Version: "1.0.0"}); err != nil {
		return rep, err
	}
	start := protocol.Start{
		Event:          protocol.EventStart,
		SequenceNumber: "1",
		StreamSID:      o.streamSID,
		Start: protocol.StartMetadata{
			StreamSID:   o.streamSID,
			CallSID:     callSID,
			Tracks:      []string{"inbound"},
			MediaFormat: protocol.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: audio.TelephonySampleRate, Channels: 1},
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		return rep, err
	}
	startedAt := time.Now()

	type received struct {
		env     protocol.Envelope
		payload []byte
	}
	events := make(chan received, 256)
	go func() {
		defer close(events)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				protocol.Envelope
				Media protocol.MediaChunk `json:"media"`
			}
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			r := received{env: msg.Envelope}
			if msg.Event == protocol.EventMedia {
				r.payload, _ = base64.StdEncoding.DecodeString(msg.Media.Payload)
			}
			events <- r
		}
	}()

	handle := func(r received) {
		switch r.env.Event {
		case protocol.EventMedia:
			if rep.MediaReceived == 0 {
				rep.FirstAudioAfter = time.Since(startedAt)
			}
			rep.MediaReceived++
			rep.BytesReceived += len(r.payload)
			rep.Audio = append(rep.Audio, r.payload...)
		case protocol.EventClear:
			rep.ClearsReceived++
			if o.verbose {
				fmt.Fprintf(out, "callsim: clear after %s\n", time.Since(startedAt).Round(time.Millisecond))
			}
		default:
			if o.verbose {
				fmt.Fprintf(out, "callsim: %s\n", r.env.Event)
			}
		}
	}

	frameEvery := time.Duration(float64(20*time.Millisecond) / o.speed)
	ticker := time.NewTicker(frameEvery)
	defer ticker.Stop()

	closed := false
	for i := 0; i < len(frames) && !closed; {
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		case r, ok := <-events:
			if !ok {
				closed = true
				break
			}
			handle(r)
		case <-ticker.C:
			msg := protocol.Media{
				Event:          protocol.EventMedia,
				SequenceNumber: strconv.Itoa(i + 2),
				StreamSID:      o.streamSID,
				Media: protocol.MediaChunk{
					Track:     "inbound",
					Chunk:     strconv.Itoa(i + 1),
					Timestamp: strconv.Itoa(i * 20),
					Payload:   base64.StdEncoding.EncodeToString(frames[i]),
				},
			}
			if err := conn.WriteJSON(msg); err != nil {
				return rep, fmt.Errorf("send frame %d: %w", i, err)
			}
			rep.FramesSent++
			i++
		}
	}

	lingerTimer := time.NewTimer(o.linger)
	defer lingerTimer.Stop()
linger:
	for !closed {
		select {
		case <-ctx.Done():
			break linger
		case <-lingerTimer.C:
			break linger
		case r, ok := <-events:
			if !ok {
				closed = true
				break
			}
			handle(r)
		}
	}

	if !closed {
		_ = conn.WriteJSON(protocol.Stop{
			Event:     protocol.EventStop,
			StreamSID: o.streamSID,
			Stop:      protocol.StopMetadata{CallSID: callSID},
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
	return rep, nil
}

func printReport(out io.Writer, rep report) {
	fmt.Fprintf(out, "callsim: stream=%s frames_sent=%d media_received=%d clears=%d bytes=%d\n",
		rep.StreamSID, rep.FramesSent, rep.MediaReceived, rep.ClearsReceived, rep.BytesReceived)
	if rep.MediaReceived > 0 {
		fmt.Fprintf(out, "callsim: first agent audio after %s\n", rep.FirstAudioAfter.Round(time.Millisecond))
	} else {
		fmt.Fprintln(out, "callsim: no agent audio received")
	}
}

func writeRecording(path string, ulaw []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return audio.WriteWAV(f, audio.PCM{Data: audio.DecodeMulaw(ulaw), SampleRate: audio.TelephonySampleRate})
}
