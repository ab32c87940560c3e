// Package er defines the broker's error vocabulary.
//
// Every error the codec, session, or connection loop raises is wrapped in
// an *Err carrying a Kind (the policy bucket from the error handling
// design) and a Context (a short breadcrumb for logs).
// Callers branch on Kind with Is/KindOf rather than string-matching
// messages, and on the wrapped sentinel with errors.Is when they need
// more precision than the Kind gives them.
package er

import (
	"errors"
	"fmt"
)

// Kind buckets an error into one of the policies the connection loop and
// session apply on failure.
type Kind int

const (
	// KindUnclassified is the zero value; treated as an unknown exception
	// that escalates to disconnect.
	KindUnclassified Kind = iota
	KindMalformedPacket
	KindProtocolViolation
	KindAuthenticationFailed
	KindStreamClosed
	KindKeepAliveTimeout
	KindPacketIdsDepleted
	KindPersistenceError
	KindAuthorizationDenied
)

func (k Kind) String() string {
	switch k {
	case KindMalformedPacket:
		return "MalformedPacket"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindAuthenticationFailed:
		return "AuthenticationFailed"
	case KindStreamClosed:
		return "StreamClosed"
	case KindKeepAliveTimeout:
		return "KeepAliveTimeout"
	case KindPacketIdsDepleted:
		return "PacketIdsDepleted"
	case KindPersistenceError:
		return "PersistenceError"
	case KindAuthorizationDenied:
		return "AuthorizationDenied"
	default:
		return "Unclassified"
	}
}

// Err is the broker's wrapped-error shape: a context breadcrumb plus the
// sentinel it wraps, tagged with the policy Kind that applies to it.
type Err struct {
	Context string
	Kind    Kind
	Message error
}

func (e *Err) Error() string {
	return fmt.Sprintf("context: %s, kind: %s, message: %v", e.Context, e.Kind, e.Message)
}

func (e *Err) Unwrap() error {
	return e.Message
}

// New builds a Kind-tagged error wrapping a sentinel message.
func New(context string, kind Kind, message error) *Err {
	return &Err{Context: context, Kind: kind, Message: message}
}

// KindOf extracts the Kind from err, defaulting to KindUnclassified when err
// was not produced by this package.
func KindOf(err error) Kind {
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnclassified
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sentinel messages, wrapped by Err and classified with a Kind at the call
// site.
var (
	// Generic decode failures (Kind: MalformedPacket).
	ErrShortBuffer             = errors.New("buffer is too short")
	ErrRemainingLenMissmatch   = errors.New("remaining length exceeds declared packet bytes")
	ErrRemainingLengthExceeded = errors.New("remaining length exceeds the 4-byte varint encoding")
	ErrInvalidUTF8String       = errors.New("string is not valid UTF-8")
	ErrInvalidPacketType       = errors.New("packet type is invalid")
	ErrInvalidPacketLength     = errors.New("packet length does not match remaining length")
	ErrReservedQoS             = errors.New("QoS value 3 is reserved")
	ErrMissingPacketID         = errors.New("packet id is required for this QoS/kind")
	ErrUnexpectedPacketID      = errors.New("packet must not carry a packet id")
	ErrInvalidPacketID         = errors.New("packet id must be non-zero")
	ErrNoTopicFilters          = errors.New("SUBSCRIBE/UNSUBSCRIBE must carry at least one filter")

	// CONNECT specifics (Kind: ProtocolViolation unless noted).
	ErrUnsupportedProtocolName  = errors.New("protocol name is not MQIsdp or MQTT")
	ErrUnsupportedProtocolLevel = errors.New("protocol level is not 3 or 4")
	ErrInvalidWillQos           = errors.New("will QoS level is invalid")
	ErrPasswordWithoutUsername  = errors.New("password flag set without username flag")
	ErrFirstPacketNotConnect    = errors.New("first packet on a connection must be CONNECT")
	ErrEmptyAndCleanSessionClientID = errors.New("client id is empty and clean session is 0")
	ErrIdentifierRejected       = errors.New("client identifier rejected")

	// Topic specifics (Kind: MalformedPacket).
	ErrEmptyTopic                  = errors.New("topic must not be empty")
	ErrWildcardInTopicName         = errors.New("topic name must not contain wildcards")
	ErrNullCharacterInTopic        = errors.New("topic contains a null character")
	ErrControlCharacterInTopic     = errors.New("topic contains a disallowed control character")
	ErrMultiLevelWildcardNotLast   = errors.New("# must be the last level of a filter")
	ErrMultiLevelWildcardNotAlone  = errors.New("# must occupy a whole level")
	ErrSingleLevelWildcardNotAlone = errors.New("+ must occupy a whole level")

	// Session/queue specifics (Kind: PacketIdsDepleted).
	ErrPacketIdsDepleted = errors.New("all 65535 packet ids are in flight")
	ErrUnknownPacketID   = errors.New("packet id is not tracked by this session")

	// Auth specifics (Kind: AuthenticationFailed).
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrConnectionDenied = errors.New("authorization denies this connection")

	// Hashing.
	ErrHashFailed = errors.New("failed to hash password")
)
