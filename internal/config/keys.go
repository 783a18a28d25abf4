package config

// exposed port for the invocation API
const API_PORT = "api.port"
const API_IP = "api.ip"

// Default timeout (seconds) applied to each handler execution
const FUNCTION_TIMEOUT = "function.timeout"

// Base directory used to resolve handler modules and the dependency manifest
const FUNCTION_DIRECTORY = "function.directory"

// Dependency manifest location; relative paths are joined to the function directory
const REQUIREMENTS_PATH = "requirements.path"

// Forces a dependency reinstall at startup, bypassing the digest check (true/false)
const REQUIREMENTS_FORCE = "requirements.force"

// Logical namespace of the dependency cache entry used by the server
const REQUIREMENTS_TAG = "requirements.tag"

// Root directory holding installed dependency sets (one subdirectory per digest)
const REQUIREMENTS_CACHE_DIR = "requirements.cache"

// Installer backend: "command" (default) or "docker"
const REQUIREMENTS_INSTALLER = "requirements.installer.backend"

// Installer argv template; supports {target}, {manifest} and {packages}
const REQUIREMENTS_INSTALLER_CMD = "requirements.installer.cmd"

// Image used by the docker installer
const REQUIREMENTS_INSTALLER_IMAGE = "requirements.installer.image"

// Execution strategy: "inprocess" (default) or "isolated"
const EXECUTOR_MODE = "executor.mode"

// Number of workers running handlers concurrently (in-process strategy)
const EXECUTOR_POOL_SIZE = "executor.pool.size"

// Capacity of the queue of invocations waiting for a free worker
const EXECUTOR_QUEUE_CAPACITY = "executor.queue.capacity"

// Bootstrap command line for the isolated strategy (default: this binary + "bootstrap")
const ISOLATION_BOOTSTRAP = "isolation.bootstrap"

// Drop privileges in the child before running user code (true/false)
const ISOLATION_DEMOTE = "isolation.demote"

// Unprivileged identity assumed by the child
const ISOLATION_UID = "isolation.uid"
const ISOLATION_GID = "isolation.gid"

// enable metrics system
const METRICS_ENABLED = "metrics.enabled"

// Enables tracing
const TRACING_ENABLED = "tracing.enabled"

// Custom output file for traces
const TRACING_OUTFILE = "tracing.outfile"

// Log level: debug, info, warn, error
const LOG_LEVEL = "log.level"
