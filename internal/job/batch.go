package job

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ArgCount is the number of positional arguments describing one sync.
const ArgCount = 6

// FromArgs builds a single source job from the positional arguments
// host port user password source destination.
func FromArgs(args []string) (*Job, error) {
	if len(args) != ArgCount {
		return nil, &ErrInvalidJob{
			msg: fmt.Sprintf("expected %d arguments, got %d", ArgCount, len(args)),
		}
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, &ErrInvalidJob{msg: fmt.Sprintf("invalid port: %s", args[1])}
	}

	job := New(args[0])
	job.Connection.Host = args[0]
	job.Connection.Port = port
	job.Connection.User = args[2]
	job.Connection.Password = args[3]
	job.Sources = []Source{{
		Path:        args[4],
		Destination: args[5],
	}}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// ReadBatch reads one set of whitespace separated arguments per line. Blank lines and
// lines starting with '#' are ignored.
func ReadBatch(r io.Reader) ([]*Job, error) {
	var jobs []*Job

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		job, err := FromArgs(strings.Fields(line))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		job.Name = fmt.Sprintf("%s:%d", job.Name, lineno)
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}
