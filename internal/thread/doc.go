// Package thread manages threads created by the library and the thread-local
// storage attached to them.
//
// A Thread is created suspended and runs once its suspend count drops to
// zero. Every Thread is listed in a Registry under its platform id; Current
// finds the calling thread and adopts unknown threads as External.
//
// A Storage maps threads to payloads. Local wraps a Storage with a payload
// type. When a thread terminates its payloads are freed in every storage it
// touched, and when a storage is destroyed it frees the payloads of every
// thread still holding one. Either side may go first.
package thread
