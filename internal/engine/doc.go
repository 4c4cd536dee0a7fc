// Package engine loads, validates, builds and runs apps. An App is resolved
// from a locator through the manifest loader, built into an image for docker
// workers, and run either as a container over a fresh working directory or
// by handing the user over to a web worker and polling for its outputs.
package engine
