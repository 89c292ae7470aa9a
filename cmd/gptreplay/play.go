package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/zulandar/gptreplay/internal/config"
	"github.com/zulandar/gptreplay/internal/db"
	"github.com/zulandar/gptreplay/internal/editor"
	"github.com/zulandar/gptreplay/internal/ingest"
	"github.com/zulandar/gptreplay/internal/playback"
	"github.com/zulandar/gptreplay/internal/timeline"
	"github.com/zulandar/gptreplay/internal/viewer"
	"golang.org/x/term"
)

func newPlayCmd() *cobra.Command {
	var (
		configPath string
		speed      float64
		from       float64
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "play <participant>",
		Short: "Replay a session in the terminal",
		Long: `Replays one participant's session, printing each GPT message as it
becomes visible and the final essay text when playback ends.

The participant is given as p<N> or N, as listed by 'gptreplay list'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, configPath, args[0], speed, from, noColor)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to gptreplay config file")
	cmd.Flags().Float64VarP(&speed, "speed", "s", 0, "speed multiplier (defaults to playback.default_speed)")
	cmd.Flags().Float64Var(&from, "from", 0, "start at this percent of the session")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable styled output")
	return cmd
}

func runPlay(cmd *cobra.Command, configPath, selector string, speed, from float64, noColor bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if speed == 0 {
		speed = cfg.Playback.DefaultSpeed
	}
	if !cfg.HasSpeed(speed) {
		return fmt.Errorf("speed %g is not one of %v", speed, cfg.Playback.Speeds)
	}

	key, essay, err := ingest.ParseParticipant(selector)
	if err != nil {
		return err
	}
	sess, err := db.LoadSession(gormDB, key)
	if err != nil {
		return err
	}

	player, err := editor.NewPlayer(sess.Operations, editor.PlayerOpts{
		Speed:          speed,
		InitialContent: sess.InitialContent,
	})
	if err != nil {
		return fmt.Errorf("start engine for %s: %w", key, err)
	}
	opts := viewer.SessionOptions(cfg)
	opts.DefaultSpeed = speed
	ps, err := playback.NewSession(playback.Config{
		ID:          key,
		Participant: key,
		Engine:      player,
		Timeline:    sess.Timeline,
		Options:     opts,
	})
	if err != nil {
		player.Close()
		return err
	}
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	p := newPrinter(cmd.OutOrStdout(), noColor)
	p.header(ingest.ParticipantLabel(essay), player.Duration(), speed, sess.Timeline.Len())

	updates, unsubscribe := ps.Subscribe()
	defer unsubscribe()
	ps.Start()

	if player.Duration() > 0 {
		if from > 0 {
			if _, err := ps.Seek(from); err != nil {
				return err
			}
		}
		if err := ps.Play(); err != nil {
			return err
		}
		// Playing from the very end is a no-op.
		if ps.Snapshot().Playing {
			follow(ctx, ps, updates, p)
		}
	}

	final := ps.Snapshot()
	p.content(final.Content)
	p.footer(len(final.Messages), sess.Timeline.Len(), final.Clock)
	return nil
}

// followPoll is how often follow checks the session directly, in case the
// status update that ends playback was dropped.
const followPoll = 250 * time.Millisecond

// follow prints messages as they are revealed until playback stops after
// having started, the session closes or ctx is cancelled.
func follow(ctx context.Context, ps *playback.Session, updates <-chan playback.Update, p *printer) {
	shown := 0
	started := false
	show := func(count int, msgs []timeline.Event) {
		if count < shown {
			p.rewind(count)
			shown = count
		}
		for _, e := range msgs[shown:] {
			p.message(e)
		}
		shown = count
	}

	ticker := time.NewTicker(followPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := ps.Snapshot(); !st.Playing && !st.Seeking {
				show(len(st.Messages), st.Messages)
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch d := u.Data.(type) {
			case playback.MessagesUpdate:
				show(d.Count, d.Messages)
			case playback.SeekUpdate:
				if d.Error != "" {
					p.warn("seek: " + d.Error)
				}
			case playback.StatusUpdate:
				if d.Playing {
					started = true
				} else if started && !d.Seeking {
					return
				}
			}
		}
	}
}

// printer renders replay output, styled when writing to a terminal.
type printer struct {
	out   io.Writer
	plain bool
	width int

	title     lipgloss.Style
	meta      lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	pasted    lipgloss.Style
	essay     lipgloss.Style
}

func newPrinter(out io.Writer, noColor bool) *printer {
	p := &printer{out: out, plain: true, width: 80}
	if f, ok := out.(*os.File); ok && !noColor && term.IsTerminal(int(f.Fd())) {
		p.plain = false
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	body := p.width - 4
	p.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	p.meta = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	p.user = lipgloss.NewStyle().Foreground(lipgloss.Color("157")).Width(body)
	p.assistant = lipgloss.NewStyle().Foreground(lipgloss.Color("183")).Width(body)
	p.pasted = lipgloss.NewStyle().Background(lipgloss.Color("58")).Width(body)
	p.essay = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(body)
	return p
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *printer) header(label string, durationMs int64, speed float64, messages int) {
	fmt.Fprintln(p.out, p.render(p.title, label))
	fmt.Fprintln(p.out, p.render(p.meta, fmt.Sprintf("%s total, %d messages, %gx",
		timeline.FormatClock(float64(durationMs)/1000), messages, speed)))
	fmt.Fprintln(p.out)
}

func (p *printer) message(e timeline.Event) {
	style := p.assistant
	if e.Role == timeline.RoleUser {
		style = p.user
	}
	if e.Highlighted {
		style = p.pasted
	}
	fmt.Fprintf(p.out, "%s %s\n", p.render(p.meta, "["+timeline.FormatClock(e.Timestamp)+"]"),
		p.render(p.meta, string(e.Role)+":"))
	fmt.Fprintln(p.out, p.render(style, e.Content))
	fmt.Fprintln(p.out)
}

func (p *printer) rewind(count int) {
	fmt.Fprintln(p.out, p.render(p.meta, fmt.Sprintf("-- rewound to %d messages --", count)))
}

func (p *printer) warn(msg string) {
	fmt.Fprintln(p.out, p.render(p.meta, "! "+msg))
}

func (p *printer) content(text string) {
	fmt.Fprintln(p.out, p.render(p.title, "Essay"))
	fmt.Fprintln(p.out, p.render(p.essay, strings.TrimRight(text, "\n")))
}

func (p *printer) footer(shown, total int, clock string) {
	fmt.Fprintln(p.out, p.render(p.meta, fmt.Sprintf("Stopped at %s, %d of %d messages shown", clock, shown, total)))
}
