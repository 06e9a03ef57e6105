// Package campaign turns a campaign into single-email send jobs.
//
// Dispatch resolves recipients, filters suppressions in one bulk call,
// checks the body for an unsubscribe link, personalizes each message and
// enqueues it in fixed-size batches. Schedule, Cancel and EnqueueDispatch
// drive the same work through the queue. SendTriggered is the single
// templated email an automation step sends.
//
// The service depends only on the interfaces in repository.go. Repository
// implementations live in repository/postgres/ and repository/memory/.
package campaign
