// Package cluster spawns, supervises and stops the local engine processes
// behind the dacluster CLI. Cluster state lives in a registry file so that
// separate dacluster invocations can find the engines they manage.
package cluster
