package workflow

// Session state keys shared by the stages.
const (
	KeyRequest  = "request"
	KeyWorkflow = "workflow"

	KeyTaskName = "task_name"
	KeyStatus   = "status"
	KeyPriority = "priority"
	KeyDueDate  = "due_date"
	KeyProject  = "project"
	KeyDetails  = "details"

	KeyCritique = "data_collection_critique"

	KeyProposedClassification = "proposed_classification"
	KeyTaskType               = "task_type"
	KeyTaskPriority           = "task_priority"
	KeyClassificationOK       = "classification_confirmed"
	KeyClassificationFeedback = "classification_feedback"

	KeyNotionPageID  = "notion_page_id"
	KeyNotionPageURL = "notion_page_url"
)

// Stages, in execution order.
const (
	StageParse    = "parse"
	StageCollect  = "collect"
	StageClassify = "classify"
	StageWrite    = "write"
	StageDone     = "done"
)

// Model request purposes.
const (
	PurposeParse    = "parse"
	PurposeQuestion = "question"
	PurposeClassify = "classify"
)

// Loop names. Each loop writes its completion status under "<name>_status".
const (
	LoopDetailCollector = "detail_collector"
	LoopClassification  = "classification"
)
