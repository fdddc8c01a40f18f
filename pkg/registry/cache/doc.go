/*
This package remembers which artifacts a registry holds, given a
backing k-v store.

The interface `Client` stands in for the k-v store (memcached, in the
subpackage; redis; or in process); `Registry` implements
registry.Registry given a `Client` and the registry to consult on a
miss.
*/
package cache
