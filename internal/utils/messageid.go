package utils

import (
	"github.com/google/uuid"
)

// messageNamespace scopes content-derived message ids to this service
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:popup-pos:loyalty-message"))

// DeriveMessageID returns a stable UUID (v5) for a message body.
// Identical bodies map to the same id, so retry counting for messages
// published without a MessageId still converges across redeliveries.
func DeriveMessageID(body []byte) string {
	return uuid.NewSHA1(messageNamespace, body).String()
}
