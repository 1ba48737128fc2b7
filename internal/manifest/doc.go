// Package manifest holds the completion index that maps sanitized
// (channel, video) pairs to their last recorded outcome. Backends live in the
// sqlite and postgres subpackages.
package manifest
