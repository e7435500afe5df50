package symbolizer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
)

// LineResolver queries a long-lived addr2line-style process: one hex
// address per request, answered by exactly two lines (function, then
// file:line). Requests are never pipelined.
type LineResolver struct {
	w           *bufio.Writer
	r           *bufio.Reader
	granularity Granularity
	logger      log.Logger

	cmd   *exec.Cmd
	stdin io.Closer
}

func NewLineResolver(w io.Writer, r io.Reader, granularity Granularity, logger log.Logger) *LineResolver {
	return &LineResolver{
		w:           bufio.NewWriter(w),
		r:           bufio.NewReader(r),
		granularity: granularity,
		logger:      logger,
	}
}

// StartLineResolver spawns `<tool> -f -e <binary>` and talks to it over
// its stdin and stdout. The process lives until Close or until ctx is done.
func StartLineResolver(ctx context.Context, tool, binary string, granularity Granularity, logger log.Logger) (*LineResolver, error) {
	path, err := exec.LookPath(tool)
	if err != nil {
		return nil, errors.Wrapf(err, "line resolver %q not found", tool)
	}
	cmd := exec.CommandContext(ctx, path, "-f", "-e", binary)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "error creating line resolver stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "error creating line resolver stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "error starting %s", path)
	}
	logger.Debug().Str("tool", path).Str("binary", binary).Int("pid", cmd.Process.Pid).Msg("started line resolver")

	l := NewLineResolver(stdin, stdout, granularity, logger)
	l.cmd = cmd
	l.stdin = stdin
	return l, nil
}

func (l *LineResolver) Resolve(addr uint64) Location {
	unresolved := Location{Kind: Unresolved, Addr: addr}

	if _, err := fmt.Fprintf(l.w, "%s\n", hexAddr(addr)); err != nil {
		l.logger.Trace().Err(err).Str("pc", hexAddr(addr)).Msg("line resolver request failed")
		return unresolved
	}
	if err := l.w.Flush(); err != nil {
		l.logger.Trace().Err(err).Str("pc", hexAddr(addr)).Msg("line resolver request failed")
		return unresolved
	}

	function := l.readLine()
	source := l.readLine()
	if function == "" || source == "" {
		l.logger.Trace().Str("pc", hexAddr(addr)).Msg("line resolver returned no answer")
		return unresolved
	}

	file, line := splitSource(source)
	return Location{
		Kind:        SourceLine,
		Function:    function,
		Source:      source,
		File:        file,
		Line:        line,
		Addr:        addr,
		Granularity: l.granularity,
	}
}

// readLine returns "" when the process has gone away or the line is cut short.
func (l *LineResolver) readLine() string {
	s, err := l.r.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\r\n")
}

// Close ends the request stream and waits for the process to exit.
func (l *LineResolver) Close() error {
	if l.stdin != nil {
		_ = l.stdin.Close()
	}
	if l.cmd == nil {
		return nil
	}
	if err := l.cmd.Wait(); err != nil {
		return errors.Wrap(err, "line resolver exited")
	}
	return nil
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%x", addr)
}
