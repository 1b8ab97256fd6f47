// Package lib provides a Go SDK to run disposable service fixtures (MongoDB,
// Redis, RabbitMQ or any image) inside Docker sandboxes from tests.
//
// Every fixture follows the same lifecycle: acquire a sandbox, wait until the
// service is ready, reset it between tests and release it at the end.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	rds, err := client.NewRedis(ctx, lib.RedisOpts{Port: 16379})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rds.Release(ctx)
//
//	if err := rds.WaitUntilReady(ctx, lib.WaitOpts{Timeout: 30 * time.Second}); err != nil {
//	    log.Fatal(err)
//	}
//	rds.Client().Set(ctx, "k", "v", 0)
//	rds.Reset(ctx) // FLUSHALL.
//
// # Testing
//
// [Setup] acquires a fixture, waits until it's ready and registers its
// release with t.Cleanup:
//
//	func TestCache(t *testing.T) {
//	    rds := lib.Setup(t, func(ctx context.Context) (*lib.Redis, error) {
//	        return client.NewRedis(ctx, lib.RedisOpts{Port: 16379})
//	    }, lib.WaitOpts{})
//	    ...
//	}
//
// # Engines
//
//   - [EngineDocker]: Real Docker containers, configured from the standard
//     Docker environment variables (DOCKER_HOST...).
//   - [EngineFake]: In-memory fake engine, nothing runs. Fixtures without a
//     service are ready right away, services never are.
//
// # Ledger
//
// Acquired fixtures are recorded on a SQLite ledger (default
// ~/.fixturebox/fixturebox.db) and removed from it when released. Fixtures
// leaked by killed test processes stay there and can be cleaned with
// `fixturebox prune`.
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrEngineUnavailable]: The sandbox engine can't be reached.
//   - [ErrCapabilityUnavailable]: The service protocol client is missing.
//   - [ErrReadyTimeout]: The fixture was not ready in time, it can still be used or released.
//   - [ErrTeardown]: The fixture sandbox could not be fully released.
//   - [ErrReleased]: The fixture was already released.
//   - [ErrNotValid]: Invalid options.
//
// # Thread Safety
//
// A [Client] is safe for concurrent use. Fixtures are meant to be used by a
// single owner, only Release is safe to call concurrently.
package lib
