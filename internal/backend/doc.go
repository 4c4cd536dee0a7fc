// Package backend defines the contract between the app engine and the
// container runtime that builds and runs docker workers, along with the
// specs exchanged between them. Implementations live in sub-packages.
package backend
