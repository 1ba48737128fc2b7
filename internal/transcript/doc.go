// Package transcript implements the structured transcript service: an
// out-of-process fetcher that shells out to a helper tool and an in-process
// fetcher that reads the timedtext endpoint directly.
package transcript
