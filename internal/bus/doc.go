// Package bus implements the room broadcast bus: live socket membership
// per room, presence rosters, and event fan-out. The bus owns membership
// state only; message shapes are composed by the websocket layer and
// identity comes from the session registry.
package bus
