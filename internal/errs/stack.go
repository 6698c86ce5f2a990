package errs

import goerrors "github.com/go-errors/errors"

// Stack returns a formatted stack trace for err, for logging unexpected
// failures at the request boundary.
func Stack(err error) string {
	goerr := goerrors.New(err)
	return string(goerr.Stack())
}
