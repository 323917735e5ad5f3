package kafka

import (
	"github.com/xdg-go/scram"
)

type scramHash int

const (
	scramSHA256 scramHash = iota
	scramSHA512
)

// scramClient adapts xdg-go/scram to sarama's SCRAMClient interface.
type scramClient struct {
	hash scramHash
	conv *scram.ClientConversation
}

func newSCRAMClient(hash scramHash) *scramClient {
	return &scramClient{hash: hash}
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	gen := scram.SHA256
	if c.hash == scramSHA512 {
		gen = scram.SHA512
	}
	client, err := gen.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv.Done()
}
