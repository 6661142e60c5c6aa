package wire

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the fixed version segment in every topic.
const ProtocolVersion = "v1"

// QoSAtLeastOnce is the bus delivery guarantee used for every topic:
// messages may be redelivered but never silently dropped.
const QoSAtLeastOnce = 1

// MessageKind names the kind segment of a topic.
type MessageKind int

const (
	KindHello MessageKind = iota
	KindDelta
	KindAERequest
	KindAEResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindDelta:
		return "delta"
	case KindAERequest:
		return "ae/request"
	case KindAEResponse:
		return "ae/response"
	default:
		return "unknown"
	}
}

// TopicScheme generates and parses replication-bus topics for one tenant:
// "{prefix}/v1/{tenant}/{doc_hash}/{kind}".
type TopicScheme struct {
	Prefix string
	Tenant string
}

// NewTopicScheme builds a TopicScheme with the default "aas-deltasync"
// prefix.
func NewTopicScheme(tenant string) TopicScheme {
	return TopicScheme{Prefix: "aas-deltasync", Tenant: tenant}
}

func (s TopicScheme) base(docHash string) string {
	return fmt.Sprintf("%s/%s/%s/%s", s.Prefix, ProtocolVersion, s.Tenant, docHash)
}

// Hello returns the topic for AgentHello messages for docHash.
func (s TopicScheme) Hello(docHash string) string {
	return s.base(docHash) + "/" + KindHello.String()
}

// Delta returns the topic for DocDelta messages for docHash.
func (s TopicScheme) Delta(docHash string) string {
	return s.base(docHash) + "/" + KindDelta.String()
}

// AERequest returns the topic for AntiEntropyRequest messages for docHash.
func (s TopicScheme) AERequest(docHash string) string {
	return s.base(docHash) + "/" + KindAERequest.String()
}

// AEResponse returns the topic for AntiEntropyResponse messages for
// docHash.
func (s TopicScheme) AEResponse(docHash string) string {
	return s.base(docHash) + "/" + KindAEResponse.String()
}

// DocWildcard returns a subscription wildcard matching every kind for one
// document.
func (s TopicScheme) DocWildcard(docHash string) string {
	return s.base(docHash) + "/#"
}

// TenantWildcard returns a subscription wildcard matching every document and
// kind for the tenant.
func (s TopicScheme) TenantWildcard() string {
	return fmt.Sprintf("%s/%s/%s/#", s.Prefix, ProtocolVersion, s.Tenant)
}

// Parse extracts (doc_hash, kind) from a concrete (non-wildcard) topic,
// rejecting anything that doesn't match this scheme's prefix/version/tenant
// exactly, including topics with trailing segments after kind.
func (s TopicScheme) Parse(topic string) (docHash string, kind MessageKind, err error) {
	prefixStr := fmt.Sprintf("%s/%s/%s/", s.Prefix, ProtocolVersion, s.Tenant)
	if !strings.HasPrefix(topic, prefixStr) {
		return "", 0, fmt.Errorf("wire: topic %q does not match scheme prefix %q", topic, prefixStr)
	}
	rest := topic[len(prefixStr):]
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2:
		docHash = parts[0]
		switch parts[1] {
		case "hello":
			return docHash, KindHello, nil
		case "delta":
			return docHash, KindDelta, nil
		default:
			return "", 0, fmt.Errorf("wire: unknown message kind %q in topic %q", parts[1], topic)
		}
	case len(parts) == 3 && parts[1] == "ae":
		docHash = parts[0]
		switch parts[2] {
		case "request":
			return docHash, KindAERequest, nil
		case "response":
			return docHash, KindAEResponse, nil
		default:
			return "", 0, fmt.Errorf("wire: unknown ae kind %q in topic %q", parts[2], topic)
		}
	default:
		return "", 0, fmt.Errorf("wire: malformed topic %q", topic)
	}
}
