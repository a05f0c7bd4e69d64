// Package core provides the business logic for bulk tabular imports.
//
// This package contains all domain logic independent of any transport
// layer. It can be used by web handlers, CLI tools, or tests without
// modification.
//
// # Flow
//
// An import is a three-call protocol:
//
//  1. [Service.ValidateFile] decodes an uploaded CSV/XLSX/XLS file, runs
//     every row through a [RowValidator] and stores the result as a
//     [ValidationSession]. The caller gets counts and a bounded preview.
//  2. [Service.ExecuteImport] starts an [ImportJob] for a session and
//     returns immediately. A background worker replays the rows against
//     the entity's [RecordStore].
//  3. [Service.GetJobStatus] returns a snapshot of the job until it
//     reaches a terminal status.
//
// # Entity Catalogue
//
// Entities are registered at init time using [Register]:
//
//	core.Register(core.EntityDefinition{
//	    Info: core.EntityInfo{Key: "members", Label: "Members", UniqueKey: "email"},
//	    FieldSpecs: []core.FieldSpec{
//	        {Name: "email", Type: core.FieldEmail, Required: true},
//	        {Name: "birth_date", Type: core.FieldDate, NotFuture: true},
//	    },
//	})
//
// # State
//
// Sessions and jobs live in a [Registry] injected into the [Service].
// [MemoryRegistry] is the in-process implementation. [Service.StartSweeper]
// evicts expired sessions and old finished jobs.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB005: Database errors (duplicates, constraints, connections)
//   - FILE001-FILE004: File errors (size, format, corrupt files)
//   - SES001-SES003: Session errors (not found, expired, in use)
//   - JOB001-JOB002: Job errors (busy, not found)
//   - ENT001-ENT003: Entity and template errors
package core
