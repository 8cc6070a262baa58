package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zhouzirui/storyline/internal/model/profile"
	model "github.com/zhouzirui/storyline/internal/model/session"
	"github.com/zhouzirui/storyline/internal/service/session"
)

const (
	cmdQuit    = ":quit"
	cmdRestart = ":restart"
)

var (
	// errInputClosed 表示标准输入已经结束
	errInputClosed = errors.New("input closed")
	errQuit        = errors.New("quit")
)

// console drives one engine from a line-oriented reader.
type console struct {
	engine *session.Engine
	in     *bufio.Scanner
	out    io.Writer
	// interactive 为 false 时不打印输入提示符，便于管道输入
	interactive bool
}

func newConsole(engine *session.Engine, in io.Reader, out io.Writer, interactive bool) *console {
	return &console{
		engine:      engine,
		in:          bufio.NewScanner(in),
		out:         out,
		interactive: interactive,
	}
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) readLine(prompt string) (string, error) {
	if c.interactive {
		c.printf("%s", prompt)
	}
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return "", errInputClosed
	}
	return strings.TrimSpace(c.in.Text()), nil
}

// askProfile fills the fields missing from preset, asking again until the
// profile validates.
func (c *console) askProfile(preset profile.Profile) (profile.Profile, error) {
	p := preset
	for {
		var err error
		if strings.TrimSpace(p.Name) == "" {
			if p.Name, err = c.readLine("Name: "); err != nil {
				return p, err
			}
		}
		if strings.TrimSpace(p.Age) == "" {
			if p.Age, err = c.readLine("Age: "); err != nil {
				return p, err
			}
		}
		if _, ok := profile.ParseGender(string(p.Gender)); !ok {
			raw, err := c.readLine("Gender (Male/Female/Other): ")
			if err != nil {
				return p, err
			}
			p.Gender = profile.Gender(raw)
		}

		p = p.Normalize()
		if err := p.Validate(); err != nil {
			c.printf("⚠️  %v\n", err)
			p = dropInvalid(p)
			continue
		}
		return p, nil
	}
}

// dropInvalid clears the fields that failed validation so only those are asked again.
func dropInvalid(p profile.Profile) profile.Profile {
	if (profile.Profile{Name: p.Name, Age: "1", Gender: profile.Other}).Validate() != nil {
		p.Name = ""
	}
	if (profile.Profile{Name: "x", Age: p.Age, Gender: profile.Other}).Validate() != nil {
		p.Age = ""
	}
	if _, ok := profile.ParseGender(string(p.Gender)); !ok {
		p.Gender = ""
	}
	return p
}

func (c *console) confirm(prompt string) (bool, error) {
	line, err := c.readLine(prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// run walks the session until the story is shown, the user quits or input ends.
func (c *console) run(ctx context.Context, preset profile.Profile) error {
	snap := c.engine.Snapshot()
	if snap.Phase != model.Idle {
		c.printf("📂 Resuming interview for %s (%d/%d answered)\n", snap.Profile.Name, snap.Cursor, snap.Total)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch snap.Phase {
		case model.Idle:
			snap, err = c.start(ctx, preset)
			// 重新开始后所有字段都重新询问
			preset = profile.Profile{}

		case model.Collecting:
			snap, err = c.answer(ctx, snap)

		case model.AwaitingStory:
			c.printf("✍️  Writing your story...\n")
			snap, err = c.engine.RequestStory(ctx)
			c.report(err)
			err = nil

		case model.Complete:
			c.printf("\n📖 Your story\n\n%s\n", snap.StoryText())
			return nil

		case model.Failed:
			c.printf("⚠️  The story could not be fetched.\n")
			line, readErr := c.readLine("[r]etry, [s]tart over or [q]uit? ")
			if readErr != nil {
				err = readErr
				break
			}
			switch strings.ToLower(line) {
			case "", "r", "retry":
				snap, err = c.engine.RequestStory(ctx)
				c.report(err)
				err = nil
			case "s", cmdRestart:
				snap = c.engine.Restart(ctx)
			case "q", cmdQuit:
				return nil
			}

		default:
			return fmt.Errorf("unexpected phase %q", snap.Phase)
		}

		if errors.Is(err, errQuit) || errors.Is(err, errInputClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *console) start(ctx context.Context, preset profile.Profile) (model.Snapshot, error) {
	p, err := c.askProfile(preset)
	if err != nil {
		return c.engine.Snapshot(), err
	}

	snap, err := c.engine.Start(ctx, p)
	if err == nil {
		c.printf("👋 Hello %s, let's begin. Type %s to start over or %s to leave.\n", p.Name, cmdRestart, cmdQuit)
		return snap, nil
	}

	c.report(err)
	if !errors.Is(err, session.ErrRegistrationFailed) {
		return snap, nil
	}
	again, readErr := c.confirm("Try again? [Y/n]: ")
	if readErr != nil {
		return snap, readErr
	}
	if !again {
		return snap, errQuit
	}
	return c.start(ctx, p)
}

func (c *console) answer(ctx context.Context, snap model.Snapshot) (model.Snapshot, error) {
	c.printf("\n(%d/%d) %s\n", snap.Cursor+1, snap.Total, snap.Question)
	line, err := c.readLine("> ")
	if err != nil {
		return snap, err
	}

	switch line {
	case cmdQuit:
		return snap, errQuit
	case cmdRestart:
		c.printf("🔄 Starting over.\n")
		return c.engine.Restart(ctx), nil
	}

	next, err := c.engine.SubmitAnswer(ctx, line)
	c.report(err)
	return next, nil
}

// report prints an engine error in terms the user can act on.
func (c *console) report(err error) {
	if err == nil {
		return
	}
	switch session.KindOf(err) {
	case model.EmptyAnswer:
		c.printf("Please type an answer.\n")
	case model.SubmissionFailed:
		c.printf("⚠️  The answer was kept but the server did not confirm it.\n")
	case model.StoryFetchFailed:
		if errors.Is(err, session.ErrSubmissionFailed) {
			c.printf("⚠️  The last answer was not confirmed by the server.\n")
		}
	default:
		c.printf("⚠️  %v\n", err)
	}
}
