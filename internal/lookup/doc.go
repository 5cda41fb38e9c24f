// Package lookup resolves pre-existing networks and roles for the topology
// builder, either from data carried in the topology file or from the live
// AWS account.
package lookup
