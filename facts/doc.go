// Package facts provides the fact types handed to the rule engine by the
// function handler: a purchase, a typed XML document and a generic fact
// backed by a protobuf Struct.
package facts
