package domain

// EventTypeEnqueueTask is the single outbox event kind: the task referenced
// by the event must be handed to the queue.
const EventTypeEnqueueTask = "ENQUEUE_TASK"
