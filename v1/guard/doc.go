// Package guard runs units of work under a distributed lock. It is a thin
// consumer of the redlock coordinator: each job type declares how its lock
// key is derived, the guard acquires the key before running the job,
// silently skips when another replica already holds it, and always releases
// afterwards. NATS and Kafka consumers are provided for guarding message
// handlers the same way.
package guard
