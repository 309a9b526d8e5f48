package provider

import (
	"fmt"

	"git.home.luguber.info/inful/gitoteko/internal/config"
)

// NotImplementedError marks a provider that parses as a valid choice but has
// no client yet.
type NotImplementedError struct {
	Provider string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("provider %q is not implemented yet", e.Provider)
}

// New creates the provider client for the given provider name.
func New(name string, bitbucket config.BitbucketSettings) (Client, error) {
	switch name {
	case "bitbucket":
		return NewBitbucketClient(bitbucket), nil
	case "github", "gitlab":
		return nil, &NotImplementedError{Provider: name}
	default:
		return nil, fmt.Errorf("unsupported provider %q (allowed: bitbucket, github, gitlab)", name)
	}
}
