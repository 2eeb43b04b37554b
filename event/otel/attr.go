package otel

import "go.opentelemetry.io/otel/attribute"

func sessionIDAttr(id string) attribute.KeyValue {
	return attribute.String("taskcore.session_id", id)
}

func iterationAttr(n int) attribute.KeyValue {
	return attribute.Int("taskcore.iteration", n)
}

func payloadAttr(data string) attribute.KeyValue {
	return attribute.String("event.payload", data)
}
