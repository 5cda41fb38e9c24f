// Package topology builds the resource graph of a single web topology: a
// looked-up network, an autoscaling compute group behind a load balancer,
// and a versioned bucket that notifies a topic.
//
// A Builder only records declarations. Lookups of pre-existing resources go
// through injected resolvers, and the finished Graph is handed to an Applier
// that talks to the provisioning engine.
//
// Declare methods return handles. A handle is a copy of what was declared:
// changing its fields has no effect on the graph, and only the handle
// itself, not a lookalike, is accepted by later calls. Every resource's
// LogicalName is unique across kinds.
package topology
