package netagent

import "errors"

// Sentinel errors delivered on a Publish command's Result channel, wrapped
// with topic/size context by handlePublish. The session agent matches on
// these with errors.Is to translate into uiproto.ErrorKind values.
var (
	ErrTooLarge = errors.New("netagent: payload too large")
	ErrNoPeers  = errors.New("netagent: no peers subscribed to topic")
)
