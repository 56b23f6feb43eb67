package console

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitCode picks the process exit code for a sensor failure: 2 when the
// sensor did not answer at all, 1 otherwise.
func ExitCode(err error, absent ...error) int {
	for _, a := range absent {
		if errors.Is(err, a) {
			return 2
		}
	}
	return 1
}
