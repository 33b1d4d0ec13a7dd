package eventbus

// Event types published by the scheduler core and its infrastructure.
const (
	TypeTagAccepted = "tag.accepted"
	TypeTagIgnored  = "tag.ignored"

	TypeEscalationSent       = "escalation.sent"
	TypeEscalationSuppressed = "escalation.suppressed"
	TypeEscalationFailed     = "escalation.failed"

	TypeFineRecorded = "fine.recorded"

	TypeMemberJoined  = "member.joined"
	TypeMemberRemoved = "member.removed"

	TypeJobsReconciled = "jobs.reconciled"
	TypeStartDateSet   = "group.start_date_set"

	TypeTaskStarted  = "task.started"
	TypeTaskFinished = "task.finished"
	TypeTaskFailed   = "task.failed"
	TypeTaskSkipped  = "task.skipped"
	TypeTaskDropped  = "task.dropped"

	TypeNotifierQueued  = "notifier.queued"
	TypeNotifierDeduped = "notifier.deduped"
	TypeNotifierDropped = "notifier.dropped"
	TypeNotifierSent    = "notifier.sent"
	TypeNotifierFailed  = "notifier.failed"

	TypeSupervisorError = "supervisor.error"
)

// DomainPrefixes select the events worth exporting outside the process.
var DomainPrefixes = []string{"tag.", "escalation.", "fine.", "member.", "jobs.", "group."}
