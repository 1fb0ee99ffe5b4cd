// Package accounts provides the account lifecycle for the LungVision
// platform: role specific registration, administrator approval, the login
// gate that issues JWT pairs, and the admin console used to review accounts.
//
// Approval lifecycle:
//   - Every Account carries an AccountStatus persisted via Bun. Doctors and
//     researchers start pending, generic and staff accounts start approved.
//   - ApprovalStateMachine owns the transition side effects. Approving or
//     rejecting stamps the reviewer and the decision time, resetting to
//     pending clears them. Persistence happens before any notification is
//     attempted so a mail failure never rolls back a decision.
//
// Notifications:
//   - NotificationDispatcher turns decisions into Notification values and
//     hands them to a Notifier. Delivery is best-effort: failures are logged,
//     recorded on the ActivitySink and reported back to the caller.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the registration
//     handler, Auther and the state machine. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package accounts
