// Package fleet loads the account and proxy lists, pairs them, and supervises
// one worker per account. A worker that fails setup is restarted with bounded
// exponential backoff and stopped with an alert once its restarts run out.
package fleet
