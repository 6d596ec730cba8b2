// Package layer owns the configured set of knowledge-graph layers and their
// lifecycles. A layer is an isolated graph+vector namespace with a priority;
// lower priority values take precedence in cross-layer ranking and fallback
// queries.
//
// The Registry is an explicit value passed to every component that needs
// layer lookup; there is no package-level global. Layers move through
// Register → Initialize → use → Close; Initialize and Close are idempotent.
//
// Configs come from YAML files (LoadConfigs) or from etcd (EtcdProvider),
// which also supports watching for operator-driven changes.
package layer
